package server

import (
	"context"
	"sync"
	"time"
)

// sessionSet 追蹤目前所有連線，關閉伺服器時使用
type sessionSet struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// add 登記新連線，伺服器關閉中時回傳 false
func (c *sessionSet) add(s *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return false
	}
	if c.sessions == nil {
		c.sessions = make(map[*Session]struct{})
	}
	c.sessions[s] = struct{}{}
	c.wg.Add(1)
	return true
}

func (c *sessionSet) remove(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s)
	c.mu.Unlock()
	c.wg.Done()
}

func (c *sessionSet) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// shutdown 關閉所有連線並等待處理 goroutine 結束
func (c *sessionSet) shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	for s := range c.sessions {
		s.Close()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump 把 Session 佇列中的訊息寫出，直到 Session 關閉或寫入失敗
//
// Session 關閉時會先把佇列中剩下的訊息送完（例如 END），再關閉連線。
// keepalive 為 nil 時不送心跳。
func pump(s *Session, write func([]byte) error, closeConn func(), keepalive <-chan time.Time, ping func() error) {
	defer closeConn()

	for {
		select {
		case line := <-s.Outbound():
			if err := write(line); err != nil {
				s.Close()
				return
			}
		case <-keepalive:
			if err := ping(); err != nil {
				s.Close()
				return
			}
		case <-s.Done():
			for {
				select {
				case line := <-s.Outbound():
					if err := write(line); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

package game

import (
	"sync"
	"time"
)

// 引擎的固定週期
const (
	CaptureTick = 100 * time.Millisecond // beacon 佔領計時
	ScoreTick   = time.Second / 3        // 計分
	SyncTick    = time.Second            // 廣播快照並檢查回合結束
)

// Task 週期任務的取消把手
//
// Stop 可以重複呼叫，也可以在任務自己的 callback 裡呼叫。
// Stop 之後可能還有一次已經開始等鎖的 callback，呼叫端要自行判斷是否過期。
type Task interface {
	Stop()
}

// Scheduler 提供時鐘與週期任務
//
// 正式環境用 TickerScheduler；測試用 ManualScheduler 手動推進時間。
type Scheduler interface {
	Now() time.Time
	Every(period time.Duration, fn func()) Task
}

// TickerScheduler 每個任務一個 goroutine + time.Ticker
//
// Wait 之後不再接受新任務，Every 回傳的任務不會執行。
type TickerScheduler struct {
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewTickerScheduler 建立正式環境用的 scheduler
func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{}
}

// Now 目前時間
func (s *TickerScheduler) Now() time.Time {
	return time.Now()
}

// Every 啟動週期任務
func (s *TickerScheduler) Every(period time.Duration, fn func()) Task {
	t := &tickerTask{stopCh: make(chan struct{})}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		t.Stop()
		return t
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				// ticker 與 stop 同時就緒時，以 stop 為準
				select {
				case <-t.stopCh:
					return
				default:
				}
				fn()
			}
		}
	}()

	return t
}

// Wait 停止接受新任務並等待所有任務的 goroutine 結束
//
// 已經在跑的任務要由持有者 Stop，Wait 不會替它們取消。
func (s *TickerScheduler) Wait() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.wg.Wait()
}

type tickerTask struct {
	stopCh chan struct{}
	once   sync.Once
}

func (t *tickerTask) Stop() {
	t.once.Do(func() { close(t.stopCh) })
}

// ManualScheduler 測試用，時間只在 Advance 時前進
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*manualTask
}

// NewManualScheduler 建立從 start 開始的 scheduler
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now 目前的虛擬時間
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Every 註冊任務，第一次在 now+period 觸發
func (s *ManualScheduler) Every(period time.Duration, fn func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTask{
		s:      s,
		seq:    s.seq,
		period: period,
		next:   s.now.Add(period),
		fn:     fn,
	}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance 推進時間並依序觸發到期的任務
//
// 觸發順序依到期時間，同時到期的依註冊順序。callback 執行時不持有
// scheduler 的鎖，所以 callback 裡可以註冊或取消任務。
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)

	for {
		due := s.nextDueLocked(target)
		if due == nil {
			break
		}
		s.now = due.next
		due.next = due.next.Add(due.period)

		s.mu.Unlock()
		due.fn()
		s.mu.Lock()
	}

	s.now = target
	s.mu.Unlock()
}

func (s *ManualScheduler) nextDueLocked(target time.Time) *manualTask {
	var due *manualTask
	for _, t := range s.tasks {
		if t.next.After(target) {
			continue
		}
		if due == nil || t.next.Before(due.next) || (t.next.Equal(due.next) && t.seq < due.seq) {
			due = t
		}
	}
	return due
}

// Active 尚未取消的任務數
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Periods 尚未取消的任務週期，依註冊順序
func (s *ManualScheduler) Periods() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]time.Duration, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.period)
	}
	return out
}

type manualTask struct {
	s      *ManualScheduler
	seq    uint64
	period time.Duration
	next   time.Time
	fn     func()
}

func (t *manualTask) Stop() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for i, other := range t.s.tasks {
		if other == t {
			t.s.tasks = append(t.s.tasks[:i], t.s.tasks[i+1:]...)
			return
		}
	}
}

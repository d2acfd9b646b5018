// Package idgen 產生遊戲 ID
//
// ID 由 Snowflake 數字 ID 經 Base62 編碼而成：
//
//	1 bit | 41 bit     | 10 bit  | 12 bit
//	0     | 毫秒時間戳 | 節點 ID | 序列號
//
// 編碼後長度約 10-11 字元，可以直接放進 JOIN 指令，同一節點上趨勢遞增。
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// epoch 2024-01-01 00:00:00 UTC
	epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = (1 << nodeBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits

	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

var (
	// ErrInvalidNodeID 節點 ID 超出範圍
	ErrInvalidNodeID = errors.New("node ID must be between 0 and 1023")

	// ErrClockMovedBackwards 時鐘回撥
	ErrClockMovedBackwards = errors.New("clock moved backwards, refusing to generate ID")

	// ErrInvalidCharacter 字串含有非 Base62 字元
	ErrInvalidCharacter = errors.New("invalid character in base62 string")
)

var decodeTable [256]int8

func init() {
	for i := range decodeTable {
		decodeTable[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		decodeTable[alphabet[i]] = int8(i)
	}
}

// Generator Snowflake ID 生成器，併發安全
type Generator struct {
	mu            sync.Mutex
	nodeID        int64
	sequence      int64
	lastTimestamp int64
	now           func() time.Time
}

// New 建立生成器
func New(nodeID int64) (*Generator, error) {
	return NewWithClock(nodeID, time.Now)
}

// NewWithClock 建立使用指定時鐘的生成器
func NewWithClock(nodeID int64, now func() time.Time) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidNodeID, nodeID)
	}
	return &Generator{nodeID: nodeID, now: now}, nil
}

// Next 生成下一個數字 ID
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixMilli()
	if ts < g.lastTimestamp {
		return 0, fmt.Errorf("%w: last=%d, current=%d", ErrClockMovedBackwards, g.lastTimestamp, ts)
	}

	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 同一毫秒序列號用盡，等下一毫秒
			for ts <= g.lastTimestamp {
				time.Sleep(10 * time.Microsecond)
				ts = g.now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = ts

	return ((ts - epoch) << timestampShift) | (g.nodeID << nodeShift) | g.sequence, nil
}

// NewGameID 生成 Base62 編碼的遊戲 ID
func (g *Generator) NewGameID() (string, error) {
	id, err := g.Next()
	if err != nil {
		return "", err
	}
	return Encode(uint64(id)), nil
}

// Parse 拆解數字 ID
func Parse(id int64) (ts time.Time, nodeID int64, sequence int64) {
	sequence = id & maxSequence
	nodeID = (id >> nodeShift) & maxNodeID
	ts = time.UnixMilli((id >> timestampShift) + epoch)
	return
}

// Encode 將數字編碼為 Base62
func Encode(num uint64) string {
	if num == 0 {
		return "0"
	}
	var buf [11]byte
	i := len(buf)
	for num > 0 {
		i--
		buf[i] = alphabet[num%62]
		num /= 62
	}
	return string(buf[i:])
}

// Decode 將 Base62 字串解回數字
func Decode(s string) (uint64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		v := decodeTable[s[i]]
		if v < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCharacter, s[i])
		}
		n = n*62 + uint64(v)
	}
	return n, nil
}

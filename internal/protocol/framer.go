// Package protocol 實作換行分隔的 JSON 文字協定
//
// 每則訊息是一個 JSON 物件，以 Delimiter 結尾。讀取端切分後會去除前後空白，
// 所以送 "\r\n" 或 "\n\r" 的舊客戶端也能正常解析。
package protocol

import (
	"bytes"
	"errors"
	"iter"
)

// Delimiter 讀寫兩端共用的訊息分隔符號
const Delimiter = '\n'

// ErrFrameTooLong 單一訊息超過上限，該訊息會被丟棄
var ErrFrameTooLong = errors.New("frame exceeds maximum length")

// Framer 將連線的位元組串流切成訊息
//
// 一條連線一個 Framer，不可併發使用。
type Framer struct {
	buf        []byte
	max        int
	discarding bool // 正在丟棄超長訊息，直到下一個分隔符號
}

// NewFramer 建立 Framer，max <= 0 表示不限制長度
func NewFramer(max int) *Framer {
	return &Framer{max: max}
}

// Feed 加入新讀到的資料，回傳目前緩衝區中所有完整訊息
//
// 訊息在迭代時才從緩衝區取出；提前結束迭代的話，剩下的訊息
// 會留到下一次 Feed 再產出。空白訊息直接略過。
func (f *Framer) Feed(p []byte) iter.Seq2[string, error] {
	f.buf = append(f.buf, p...)

	return func(yield func(string, error) bool) {
		for {
			idx := bytes.IndexByte(f.buf, Delimiter)
			if idx < 0 {
				if f.max > 0 && len(f.buf) > f.max {
					f.buf = f.buf[:0]
					if !f.discarding {
						f.discarding = true
						yield("", ErrFrameTooLong)
					}
				}
				return
			}

			raw := f.buf[:idx]
			f.buf = f.buf[idx+1:]

			if f.discarding {
				// 超長訊息的尾巴
				f.discarding = false
				continue
			}
			if f.max > 0 && len(raw) > f.max {
				if !yield("", ErrFrameTooLong) {
					return
				}
				continue
			}

			frame := string(bytes.TrimSpace(raw))
			if frame == "" {
				continue
			}
			if !yield(frame, nil) {
				return
			}
		}
	}
}

// Buffered 尚未形成完整訊息的位元組數
func (f *Framer) Buffered() int {
	return len(f.buf)
}

package protocol_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/beacon-arena/internal/protocol"
)

type frameResult struct {
	frame string
	err   error
}

func collect(f *protocol.Framer, chunk string) []frameResult {
	var out []frameResult
	for frame, err := range f.Feed([]byte(chunk)) {
		out = append(out, frameResult{frame, err})
	}
	return out
}

func TestFramer_Feed(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "single frame",
			chunks: []string{`{"command":"PING"}` + "\n"},
			want:   []string{`{"command":"PING"}`},
		},
		{
			name:   "several frames in one chunk",
			chunks: []string{"a\nb\nc\n"},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "frame split across reads",
			chunks: []string{`{"comm`, `and":"HOST"}`, "\n"},
			want:   []string{`{"command":"HOST"}`},
		},
		{
			name:   "empty fragments skipped",
			chunks: []string{"\n\n  \na\n\n"},
			want:   []string{"a"},
		},
		{
			name:   "crlf and lfcr senders",
			chunks: []string{"a\r\nb\n\rc\n"},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "trailing partial frame held back",
			chunks: []string{"a\nb"},
			want:   []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := protocol.NewFramer(0)
			var got []string
			for _, c := range tt.chunks {
				for _, r := range collect(f, c) {
					require.NoError(t, r.err)
					got = append(got, r.frame)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFramer_EarlyStopKeepsRemainder(t *testing.T) {
	f := protocol.NewFramer(0)

	for frame, err := range f.Feed([]byte("a\nb\nc\n")) {
		require.NoError(t, err)
		assert.Equal(t, "a", frame)
		break
	}

	// 剩下的訊息在下一次 Feed 取得
	got := collect(f, "")
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].frame)
	assert.Equal(t, "c", got[1].frame)
	assert.Zero(t, f.Buffered())
}

func TestFramer_TooLong(t *testing.T) {
	f := protocol.NewFramer(8)

	// 完整但超長的訊息被丟棄，後面的訊息照常處理
	got := collect(f, strings.Repeat("x", 20)+"\nok\n")
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0].err, protocol.ErrFrameTooLong)
	assert.Equal(t, "ok", got[1].frame)

	// 沒有分隔符號的超長資料只報一次錯，並丟到下一個分隔符號為止
	got = collect(f, strings.Repeat("y", 10))
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].err, protocol.ErrFrameTooLong)

	assert.Empty(t, collect(f, strings.Repeat("y", 10)))

	got = collect(f, "yyy\nnext\n")
	require.Len(t, got, 1)
	assert.Equal(t, "next", got[0].frame)
}

package terminal

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// DefaultBufferMax is the default cap on retained scrollback, in bytes.
	DefaultBufferMax = 100_000
	// DefaultBufferLookahead is how far past the naive cut point a newline is searched for.
	DefaultBufferLookahead = 1024
)

// OutputBuffer keeps the most recent output of one session, bounded to maxSize bytes.
// When trimming, the cut is moved forward to just past the first newline inside the
// lookahead window so escape sequences and CRLF pairs are not split mid-way.
type OutputBuffer struct {
	mu        sync.RWMutex
	maxSize   int
	lookahead int
	data      string
}

// NewOutputBuffer creates a buffer. Non-positive arguments select the defaults.
func NewOutputBuffer(maxSize, lookahead int) *OutputBuffer {
	if maxSize <= 0 {
		maxSize = DefaultBufferMax
	}
	if lookahead <= 0 {
		lookahead = DefaultBufferLookahead
	}
	return &OutputBuffer{maxSize: maxSize, lookahead: lookahead}
}

// Append adds chunk and trims the front so that Len() <= maxSize.
func (b *OutputBuffer) Append(chunk string) {
	if chunk == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data := b.data + chunk
	if len(data) > b.maxSize {
		cut := len(data) - b.maxSize
		end := min(cut+b.lookahead, len(data))
		if i := strings.IndexByte(data[cut:end], '\n'); i >= 0 {
			cut += i + 1
		} else {
			for cut < len(data) && !utf8.RuneStart(data[cut]) {
				cut++
			}
		}
		data = data[cut:]
	}
	b.data = data
}

// String returns the current contents.
func (b *OutputBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

// Len returns the current size in bytes.
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

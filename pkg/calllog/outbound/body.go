package outbound

import (
	"io"
	"sync"

	"github.com/bellissimopizza/bellissimolog/pkg/calllog"
)

// loggedBody copies what the caller reads from a response body into a bounded
// buffer. finish runs once, on the first read error (io.EOF included) or on
// Close, whichever comes first.
type loggedBody struct {
	io.ReadCloser

	mu      sync.Mutex
	capture *calllog.CaptureBuffer
	size    int
	done    bool
	finish  func(captured []byte, size int)
}

func (b *loggedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.done {
		b.size += n
		b.capture.Write(p[:n]) //nolint:errcheck
		if err != nil {
			b.finishLocked()
		}
	}

	return n, err
}

func (b *loggedBody) Close() error {
	err := b.ReadCloser.Close()

	b.mu.Lock()
	b.finishLocked()
	b.mu.Unlock()

	return err
}

func (b *loggedBody) finishLocked() {
	if b.done {
		return
	}
	b.done = true
	b.finish(b.capture.Bytes(), b.size)
}

package broadcast

import (
	"io"
	"sync"

	"github.com/gobwas/ws"
)

// lockedWriter serializes writes to a connection. Data frames are compiled
// into one buffer so a control reply issued by the reader can never land in
// the middle of one.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// writeText sends one text frame. Client frames must be masked.
func (l *lockedWriter) writeText(data []byte, client bool) error {
	frame := ws.NewTextFrame(data)
	if client {
		frame = ws.MaskFrameInPlace(frame)
	}
	b, err := ws.CompileFrame(frame)
	if err != nil {
		return err
	}
	_, err = l.Write(b)
	return err
}

// readWriter pairs a frame reader with the locked writer so wsutil can answer
// pings and close frames while we read.
type readWriter struct {
	io.Reader
	io.Writer
}

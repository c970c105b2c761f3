package remote

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/chaz8081/bleremote/internal/ble/protocol"
)

// ConsoleSink prints events as timestamped lines.
type ConsoleSink struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewConsoleSink returns a sink writing to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w, now: time.Now}
}

func (s *ConsoleSink) Status(msg string) {
	s.printf("%s", msg)
}

func (s *ConsoleSink) Error(err error) {
	s.printf("ERROR: %v", err)
}

func (s *ConsoleSink) Ready(ready bool) {
	if ready {
		s.printf("Link ready.")
		return
	}
	s.printf("Link not ready.")
}

func (s *ConsoleSink) Armed(cmd protocol.Command) {
	if cmd == "" {
		return
	}
	s.printf(">>> %s armed", cmd)
}

func (s *ConsoleSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s  %s\n", s.now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

var _ Sink = (*ConsoleSink)(nil)

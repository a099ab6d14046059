package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
)

// maxStatusMessages bounds the retained status history.
const maxStatusMessages = 50

// StatusFunc receives user-visible status messages such as bind failures.
type StatusFunc func(msg string)

// StatusMessage is one retained status line.
type StatusMessage struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

type statusLog struct {
	fn StatusFunc

	mu   sync.Mutex
	msgs []StatusMessage
}

func newStatusLog(fn StatusFunc) *statusLog {
	if fn == nil {
		fn = func(msg string) { monitoring.Logf("[node] status: %s", msg) }
	}
	return &statusLog{fn: fn}
}

func (l *statusLog) Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.msgs = append(l.msgs, StatusMessage{Time: time.Now(), Message: msg})
	if len(l.msgs) > maxStatusMessages {
		l.msgs = l.msgs[len(l.msgs)-maxStatusMessages:]
	}
	l.mu.Unlock()
	l.fn(msg)
}

func (l *statusLog) Messages() []StatusMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StatusMessage(nil), l.msgs...)
}

package notify

import (
	"fmt"
	"sync"
	"time"
)

type Level int

const (
	Info Level = iota
	Success
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Notice is a transient user-visible message. Every failed action surfaces
// exactly one of these; nothing in the client is fatal.
type Notice struct {
	Level   Level
	Message string
	Time    time.Time
}

// Notifier fans notices out to subscribers. Sends never block: a subscriber
// that stops draining loses notices instead of wedging the event flow.
type Notifier struct {
	mu   sync.Mutex
	subs []chan Notice
}

func New() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Subscribe() <-chan Notice {
	ch := make(chan Notice, 16)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

func (n *Notifier) publish(level Level, msg string) {
	notice := Notice{Level: level, Message: msg, Time: time.Now()}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- notice:
		default:
		}
	}
}

func (n *Notifier) Info(msg string)    { n.publish(Info, msg) }
func (n *Notifier) Success(msg string) { n.publish(Success, msg) }
func (n *Notifier) Error(msg string)   { n.publish(Error, msg) }

func (n *Notifier) Errorf(format string, args ...any) {
	n.publish(Error, fmt.Sprintf(format, args...))
}

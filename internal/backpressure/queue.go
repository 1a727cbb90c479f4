package backpressure

import (
	"sort"
	"time"
)

// Priority orders queued messages; higher values are delivered first.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// QueuedMessage is one pending outbound message.
type QueuedMessage struct {
	Payload    []byte
	Priority   Priority
	EnqueuedAt time.Time
	Kind       string
}

// insertByPriority keeps the queue sorted by descending priority with FIFO
// order inside each priority: a new message goes after every existing entry
// of equal or higher priority.
func insertByPriority(q []QueuedMessage, m QueuedMessage) []QueuedMessage {
	idx := sort.Search(len(q), func(i int) bool {
		return q[i].Priority < m.Priority
	})
	q = append(q, QueuedMessage{})
	copy(q[idx+1:], q[idx:])
	q[idx] = m
	return q
}

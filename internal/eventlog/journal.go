// internal/eventlog/journal.go
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/model"
)

// Journal is a bounded, ordered record of every command sent and every line
// received. Sequence numbers start at 1 and never repeat, so readers can poll
// with the last sequence they saw.
type Journal struct {
	mutex       sync.RWMutex
	entries     []model.LogEvent
	start       int
	count       int
	nextSeq     uint64
	subscribers map[string]chan model.LogEvent
	logger      *zap.Logger
}

// NewJournal creates a journal holding at most capacity events
func NewJournal(capacity int, logger *zap.Logger) *Journal {
	if capacity < 1 {
		capacity = 1
	}
	return &Journal{
		entries:     make([]model.LogEvent, capacity),
		nextSeq:     1,
		subscribers: make(map[string]chan model.LogEvent),
		logger:      logger,
	}
}

// Record appends an event, evicting the oldest one when full, and fans it
// out to subscribers
func (j *Journal) Record(direction model.Direction, text string) model.LogEvent {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	event := model.LogEvent{
		Seq:       j.nextSeq,
		Direction: direction,
		Text:      text,
		Timestamp: time.Now(),
	}
	j.nextSeq++

	capacity := len(j.entries)
	if j.count < capacity {
		j.entries[(j.start+j.count)%capacity] = event
		j.count++
	} else {
		j.entries[j.start] = event
		j.start = (j.start + 1) % capacity
	}

	for id, subscriber := range j.subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
			j.logger.Warn("Log subscriber full, dropping event",
				zap.String("subscriber_id", id),
				zap.Uint64("seq", event.Seq),
			)
		}
	}

	return event
}

// Snapshot returns the retained events with a sequence number above since,
// oldest first
func (j *Journal) Snapshot(since uint64) []model.LogEvent {
	j.mutex.RLock()
	defer j.mutex.RUnlock()

	capacity := len(j.entries)
	events := make([]model.LogEvent, 0, j.count)
	for i := 0; i < j.count; i++ {
		event := j.entries[(j.start+i)%capacity]
		if event.Seq > since {
			events = append(events, event)
		}
	}
	return events
}

// Len returns the number of retained events
func (j *Journal) Len() int {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	return j.count
}

// LastSeq returns the sequence number of the newest event, 0 if none
func (j *Journal) LastSeq() uint64 {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	return j.nextSeq - 1
}

// Subscribe registers a live listener. The returned cancel func unregisters
// it and closes the channel.
func (j *Journal) Subscribe(buffer int) (string, <-chan model.LogEvent, func()) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	id := uuid.New().String()
	subscriber := make(chan model.LogEvent, buffer)
	j.subscribers[id] = subscriber

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			j.mutex.Lock()
			defer j.mutex.Unlock()
			delete(j.subscribers, id)
			close(subscriber)
		})
	}
	return id, subscriber, cancel
}

// SubscriberCount returns the number of live listeners
func (j *Journal) SubscriberCount() int {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	return len(j.subscribers)
}

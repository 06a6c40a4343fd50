package queue

import (
	"context"
	"fmt"
	"sync"
)

// MessageHandler handles a delivered message
type MessageHandler func(data []byte) error

// MemoryPublisher keeps published messages in process and hands them to
// subscribed handlers synchronously. Useful for development and tests.
type MemoryPublisher struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	handlers map[string][]MessageHandler
	closed   bool
}

// NewMemoryPublisher creates an in-memory publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		messages: make(map[string][][]byte),
		handlers: make(map[string][]MessageHandler),
	}
}

// Publish records data under subject and delivers it to subscribers
func (q *MemoryPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Copy to decouple from the caller's buffer
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("publisher closed")
	}
	q.messages[subject] = append(q.messages[subject], dataCopy)
	handlers := append([]MessageHandler(nil), q.handlers[subject]...)
	q.mu.Unlock()

	for _, h := range handlers {
		_ = h(dataCopy)
	}
	return nil
}

// PublishBatch publishes multiple messages
func (q *MemoryPublisher) PublishBatch(ctx context.Context, messages []BatchMessage) (int, error) {
	successCount := 0
	for _, msg := range messages {
		if err := q.Publish(ctx, msg.Subject, msg.Data); err != nil {
			continue
		}
		successCount++
	}
	return successCount, nil
}

// Subscribe registers handler for subject
func (q *MemoryPublisher) Subscribe(subject string, handler MessageHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = append(q.handlers[subject], handler)
}

// Messages returns a copy of everything published to subject
func (q *MemoryPublisher) Messages(subject string) [][]byte {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([][]byte(nil), q.messages[subject]...)
}

// Close drops all messages and handlers
func (q *MemoryPublisher) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.messages = make(map[string][][]byte)
	q.handlers = make(map[string][]MessageHandler)
	return nil
}

package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/iago/content-router/internal/domain"
)

const DefaultMaxAttempts = 3

// LocalQueue is the in-process queue used when Redis is not configured.
// Messages are lost on restart.
type LocalQueue struct {
	ch          chan domain.RouteMessage
	maxAttempts int
	retryDelay  time.Duration
	logger      *log.Logger

	dlqMu sync.Mutex
	dlq   []domain.RouteMessage
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &LocalQueue{
		ch:          make(chan domain.RouteMessage, bufferSize),
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
		logger:      logger,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.RouteMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.RouteMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, message)
				q.dlqMu.Unlock()
				q.logf("local queue moved message to DLQ job_id=%s err=%v", message.JobID, err)
				continue
			}

			delay := time.Duration(message.Attempt) * q.retryDelay
			go func(retry domain.RouteMessage) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
				case <-timer.C:
					select {
					case q.ch <- retry:
					case <-ctx.Done():
					}
				}
			}(message)
		}
	}
}

// DeadLetters returns a copy of the messages that exhausted their attempts.
func (q *LocalQueue) DeadLetters() []domain.RouteMessage {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return append([]domain.RouteMessage(nil), q.dlq...)
}

func (q *LocalQueue) logf(format string, args ...any) {
	if q.logger == nil {
		return
	}
	q.logger.Printf(format, args...)
}

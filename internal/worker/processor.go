package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iago/content-router/internal/domain"
	"github.com/iago/content-router/internal/queue"
	"github.com/iago/content-router/internal/service"
)

var ErrRouteFailed = errors.New("async route failed")

// Router is the part of service.Router the worker needs.
type Router interface {
	Route(ctx context.Context, request service.RouteRequest) service.RouteResponse
}

// Processor consumes queued route requests and runs them through the router.
type Processor struct {
	consumer     queue.Consumer
	router       Router
	logger       *log.Logger
	restartDelay time.Duration
}

func NewProcessor(consumer queue.Consumer, router Router, logger *log.Logger) *Processor {
	return &Processor{
		consumer:     consumer,
		router:       router,
		logger:       logger,
		restartDelay: 2 * time.Second,
	}
}

// Start blocks until ctx is cancelled, restarting the consume loop after
// backend errors.
func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logf("worker consume loop error: %v", err)

		timer := time.NewTimer(p.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.RouteMessage) error {
	response := p.router.Route(ctx, service.RouteRequest{
		Item:        message.Item,
		ContentType: message.ContentType,
		Options:     message.Options,
	})

	switch response.Status {
	case service.StatusFailed, service.StatusError:
		return fmt.Errorf("%w: job_id=%s attempt=%d status=%s: %s",
			ErrRouteFailed, message.JobID, message.Attempt, response.Status, response.Error)
	}

	p.logf("job routed job_id=%s fingerprint=%s status=%s route_to=%s model=%s",
		message.JobID, response.Fingerprint, response.Status,
		response.RoutingDecision.RouteTo, response.RoutingDecision.Model)
	return nil
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}

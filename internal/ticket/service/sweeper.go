package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
)

// Sweeper periodically fails generating comments that have gone stale. A
// crashed worker leaves its placeholder row in status=generating forever;
// the sweeper is what eventually closes it out for watching clients.
type Sweeper struct {
	service  *Service
	logger   *logger.Logger
	interval time.Duration
	maxAge   time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewSweeper creates the sweeper. Call Start to run the loop.
func NewSweeper(service *Service, interval, maxAge time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		logger:   log.WithFields(zap.String("component", "comment-sweeper")),
		interval: interval,
		maxAge:   maxAge,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (sw *Sweeper) Start() {
	go sw.run()
}

// Stop terminates the loop.
func (sw *Sweeper) Stop() {
	close(sw.stop)
	<-sw.done
}

func (sw *Sweeper) run() {
	defer close(sw.done)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-sw.stop:
			return
		case <-ticker.C:
			sw.Sweep(context.Background())
		}
	}
}

// Sweep runs one pass and broadcasts comment:failed for every comment it
// transitions.
func (sw *Sweeper) Sweep(ctx context.Context) {
	minutes := int(sw.maxAge.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	swept, err := sw.service.store.SweepGenerating(ctx, minutes)
	if err != nil {
		sw.logger.Error("Sweep failed", zap.Error(err))
		return
	}
	for _, comment := range swept {
		sw.logger.Warn("Failed stale generating comment",
			zap.String("comment_id", comment.ID),
			zap.String("ticket_id", comment.TicketID))
		sw.service.publishCommentEvent(ctx, events.CommentFailed, comment)
	}
}

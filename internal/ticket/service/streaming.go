package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/ticket/models"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// Streamer manages comments whose content an agent produces incrementally.
// A row in status=generating is provisional; only the creating producer may
// finalize it. Appended deltas are buffered per comment and flushed on a
// short ticker so a chatty agent does not turn every token into a row write
// and a broadcast.
type Streamer struct {
	service *Service
	logger  *logger.Logger

	flushInterval time.Duration

	mu      sync.Mutex
	buffers map[string]*strings.Builder // comment id → unflushed deltas

	stop chan struct{}
	done chan struct{}
}

// NewStreamer creates the streamer. Call Start to run the flush loop.
func NewStreamer(service *Service, flushInterval time.Duration, log *logger.Logger) *Streamer {
	return &Streamer{
		service:       service,
		logger:        log.WithFields(zap.String("component", "comment-streamer")),
		flushInterval: flushInterval,
		buffers:       make(map[string]*strings.Builder),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop.
func (st *Streamer) Start() {
	go st.run()
}

// Stop flushes any buffered deltas and stops the loop.
func (st *Streamer) Stop() {
	close(st.stop)
	<-st.done
}

func (st *Streamer) run() {
	defer close(st.done)
	ticker := time.NewTicker(st.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			st.flushAll(context.Background())
			return
		case <-ticker.C:
			st.flushAll(context.Background())
		}
	}
}

// Create inserts a generating comment and broadcasts comment:created.
func (st *Streamer) Create(ctx context.Context, ticketID, agentID, initialContent string, respondingTo *string) (*models.Comment, error) {
	status := models.CommentGenerating
	return st.service.CreateComment(ctx, ticketID, &v1.CreateCommentRequest{
		Content:      initialContent,
		AuthorKind:   models.AuthorAgent,
		AuthorID:     agentID,
		Status:       status,
		RespondingTo: respondingTo,
	})
}

// Append buffers a content delta for a generating comment. The delta is
// durably applied and broadcast on the next flush tick.
func (st *Streamer) Append(commentID, delta string) {
	if delta == "" {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	buf, ok := st.buffers[commentID]
	if !ok {
		buf = &strings.Builder{}
		st.buffers[commentID] = buf
	}
	buf.WriteString(delta)
}

// Update replaces the comment's full content, keeping status=generating,
// and broadcasts comment:updated. Any buffered deltas for the comment are
// discarded: the caller handed us the authoritative content.
func (st *Streamer) Update(ctx context.Context, commentID, content string) (*models.Comment, error) {
	st.dropBuffer(commentID)
	status := models.CommentGenerating
	return st.service.UpdateComment(ctx, commentID, &v1.UpdateCommentRequest{
		Content: &content,
		Status:  &status,
	})
}

// Finalize sets the comment's final content, flips status to completed, and
// broadcasts comment:completed.
func (st *Streamer) Finalize(ctx context.Context, commentID, content string) (*models.Comment, error) {
	st.dropBuffer(commentID)

	comment, err := st.service.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	comment.Content = content
	comment.Status = models.CommentCompleted
	if err := st.service.store.UpdateComment(ctx, comment); err != nil {
		return nil, err
	}
	st.service.publishCommentEvent(ctx, events.CommentCompleted, comment)
	return comment, nil
}

// Fail flips a generating comment to failed and broadcasts comment:failed.
func (st *Streamer) Fail(ctx context.Context, commentID string) error {
	st.dropBuffer(commentID)
	comment, err := st.service.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	comment.Status = models.CommentFailed
	if err := st.service.store.UpdateComment(ctx, comment); err != nil {
		return err
	}
	st.service.publishCommentEvent(ctx, events.CommentFailed, comment)
	return nil
}

// Flush applies the buffered deltas for one comment immediately.
func (st *Streamer) Flush(ctx context.Context, commentID string) {
	st.mu.Lock()
	buf, ok := st.buffers[commentID]
	if ok {
		delete(st.buffers, commentID)
	}
	st.mu.Unlock()
	if !ok || buf.Len() == 0 {
		return
	}
	st.apply(ctx, commentID, buf.String())
}

func (st *Streamer) flushAll(ctx context.Context) {
	st.mu.Lock()
	pending := st.buffers
	st.buffers = make(map[string]*strings.Builder)
	st.mu.Unlock()

	for commentID, buf := range pending {
		if buf.Len() == 0 {
			continue
		}
		st.apply(ctx, commentID, buf.String())
	}
}

func (st *Streamer) apply(ctx context.Context, commentID, delta string) {
	if err := st.service.store.AppendCommentContent(ctx, commentID, delta); err != nil {
		st.logger.Warn("Failed to flush comment delta",
			zap.String("comment_id", commentID), zap.Error(err))
		return
	}
	comment, err := st.service.GetComment(ctx, commentID)
	if err != nil {
		st.logger.Warn("Failed to load comment after flush",
			zap.String("comment_id", commentID), zap.Error(err))
		return
	}
	st.service.publishCommentEvent(ctx, events.CommentUpdated, comment)
}

func (st *Streamer) dropBuffer(commentID string) {
	st.mu.Lock()
	delete(st.buffers, commentID)
	st.mu.Unlock()
}

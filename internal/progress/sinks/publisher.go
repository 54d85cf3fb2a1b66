package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/progress"
	"github.com/JakeFAU/storyprogress/internal/publisher"
)

// StoryNotice is the payload published when a story finishes.
type StoryNotice struct {
	StoryID      string    `json:"story_id"`
	Status       string    `json:"status"`
	SegmentCount int       `json:"segment_count"`
	LastSegment  int       `json:"last_segment"`
	FinishedAt   time.Time `json:"finished_at"`
	RuntimeMS    int64     `json:"runtime_ms,omitempty"`
}

// PublisherSinkConfig selects the topic and which terminal stages to publish.
type PublisherSinkConfig struct {
	Topic           string
	IncludeCanceled bool
}

// PublisherSink publishes a StoryNotice for every finished story so
// downstream systems (recommendations, analytics) can react.
type PublisherSink struct {
	pub    publisher.Publisher
	cfg    PublisherSinkConfig
	logger *zap.Logger
}

// NewPublisherSink validates cfg and wraps pub.
func NewPublisherSink(pub publisher.Publisher, cfg PublisherSinkConfig, logger *zap.Logger) (*PublisherSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, cfg: cfg, logger: logger}, nil
}

// Consume publishes one notice per terminal event. It keeps going after a
// failure and returns the joined errors.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		notice, ok := s.notice(evt)
		if !ok {
			continue
		}
		id, err := s.pub.Publish(ctx, s.cfg.Topic, notice)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s notice for %s: %w", notice.Status, notice.StoryID, err))
			continue
		}
		s.logger.Debug("story notice published",
			zap.String("story_id", notice.StoryID),
			zap.String("status", notice.Status),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

func (s *PublisherSink) notice(evt progress.Event) (StoryNotice, bool) {
	var status string
	switch evt.Stage {
	case progress.StageStoryDone:
		status = "completed"
	case progress.StageStoryCancel:
		if !s.cfg.IncludeCanceled {
			return StoryNotice{}, false
		}
		status = "canceled"
	default:
		return StoryNotice{}, false
	}
	n := StoryNotice{
		StoryID:      evt.SessionUUID().String(),
		Status:       status,
		SegmentCount: evt.SegmentCount,
		LastSegment:  evt.Segment,
		FinishedAt:   evt.TS.UTC(),
	}
	if evt.Stage == progress.StageStoryDone {
		n.RuntimeMS = evt.Dur.Milliseconds()
	}
	return n, true
}

// Close implements the Sink interface; the publisher is owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

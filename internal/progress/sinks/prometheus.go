package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/storyprogress/internal/progress"
)

// PrometheusSink derives story engagement metrics from events.
type PrometheusSink struct {
	storiesStarted  prometheus.Counter
	storiesReset    prometheus.Counter
	storiesFinished *prometheus.CounterVec
	storiesActive   prometheus.Gauge
	storyRuntime    *prometheus.HistogramVec

	segmentChanges *prometheus.CounterVec
	segmentDwell   *prometheus.HistogramVec
	pauses         prometheus.Counter
	pauseDuration  prometheus.Histogram

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against reg (default registerer
// when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		storiesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "story_sessions_started_total",
			Help: "Stories started from segment 0.",
		}),
		storiesReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "story_sessions_reset_total",
			Help: "Stories rewound to segment 0 by a reset.",
		}),
		storiesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "story_sessions_finished_total",
			Help: "Stories finished partitioned by result.",
		}, []string{"result"}),
		storiesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "story_sessions_active",
			Help: "Stories currently playing or paused.",
		}),
		storyRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "story_session_runtime_seconds",
			Help:    "Time from start to completion of a story.",
			Buckets: []float64{1, 3.5, 7, 14, 21, 35, 70, 140, 300},
		}, []string{"result"}),
		segmentChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "story_segment_changes_total",
			Help: "Active segment changes partitioned by cause.",
		}, []string{"cause"}),
		segmentDwell: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "story_segment_dwell_seconds",
			Help:    "Time spent on a segment before leaving it, by cause.",
			Buckets: []float64{0.25, 0.5, 1, 2, 3.5, 5, 7, 10, 30},
		}, []string{"cause"}),
		pauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "story_segment_pauses_total",
			Help: "Segment pauses from long presses or backgrounding.",
		}),
		pauseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "story_segment_pause_seconds",
			Help:    "Time a segment stayed paused before resuming.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 60},
		}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.storiesStarted,
		s.storiesReset,
		s.storiesFinished,
		s.storiesActive,
		s.storyRuntime,
		s.segmentChanges,
		s.segmentDwell,
		s.pauses,
		s.pauseDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register story collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageStoryStart, progress.StageStoryReset:
		if evt.Stage == progress.StageStoryStart {
			s.storiesStarted.Inc()
		} else {
			s.storiesReset.Inc()
		}
		if s.tracker.start(evt.SessionID, evt.TS) {
			s.storiesActive.Inc()
		}
	case progress.StageSegmentChange:
		cause := string(evt.Cause)
		s.segmentChanges.WithLabelValues(cause).Inc()
		if evt.Dur > 0 {
			s.segmentDwell.WithLabelValues(cause).Observe(evt.Dur.Seconds())
		}
		if _, ok := s.tracker.move(evt.SessionID, evt.Segment, evt.TS); !ok {
			s.storiesActive.Inc()
		}
	case progress.StageSegmentPause:
		s.pauses.Inc()
	case progress.StageSegmentResume:
		if evt.Dur > 0 {
			s.pauseDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageStoryDone, progress.StageStoryCancel:
		result := "completed"
		if evt.Stage == progress.StageStoryCancel {
			result = "canceled"
		}
		s.storiesFinished.WithLabelValues(result).Inc()
		if evt.Stage == progress.StageStoryDone && evt.Dur > 0 {
			s.storyRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if _, ok := s.tracker.finish(evt.SessionID); ok {
			s.storiesActive.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

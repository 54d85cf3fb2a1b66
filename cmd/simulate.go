package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/loop"
	"github.com/JakeFAU/storyprogress/internal/progress"
	"github.com/JakeFAU/storyprogress/internal/progress/sinks"
	"github.com/JakeFAU/storyprogress/internal/story"
)

type simulateOptions struct {
	segments int
	duration time.Duration
	ticks    int
	pauseAt  float64
	pauseFor time.Duration
	speed    float64
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a story on a real event loop and print every event",
		Long: `Runs one coordinator on the serialized event loop with wall-clock ticks.
With --pause-at the first segment is paused once it reaches that fraction and
resumed after --pause-for. --speed divides every duration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("duration") {
				opts.duration = rt.cfg.Story.SegmentDuration
			}
			if !cmd.Flags().Changed("ticks") {
				opts.ticks = rt.cfg.Story.TicksPerSecond
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimulate(ctx, cmd.OutOrStdout(), opts, rt.logger.Named("simulate"))
		},
	}
	cmd.Flags().IntVar(&opts.segments, "segments", 3, "number of segments")
	cmd.Flags().DurationVar(&opts.duration, "duration", story.DefaultSegmentDuration, "time to fill one segment")
	cmd.Flags().IntVar(&opts.ticks, "ticks", story.DefaultTicksPerSecond, "progress updates per second")
	cmd.Flags().Float64Var(&opts.pauseAt, "pause-at", 0, "pause the first segment at this fraction (0 disables)")
	cmd.Flags().DurationVar(&opts.pauseFor, "pause-for", time.Second, "how long to stay paused")
	cmd.Flags().Float64Var(&opts.speed, "speed", 1, "speed multiplier applied to every duration")
	return cmd
}

func (o simulateOptions) validate() error {
	switch {
	case o.duration <= 0:
		return errors.New("--duration must be > 0")
	case o.ticks <= 0:
		return errors.New("--ticks must be > 0")
	case o.pauseAt < 0 || o.pauseAt >= 1:
		return errors.New("--pause-at must be within [0,1)")
	case o.pauseFor < 0:
		return errors.New("--pause-for must be >= 0")
	case o.speed <= 0:
		return errors.New("--speed must be > 0")
	}
	return nil
}

func (o simulateOptions) scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) / o.speed)
}

func runSimulate(ctx context.Context, out io.Writer, opts simulateOptions, logger *zap.Logger) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hub := progress.NewHub(progress.Config{Logger: logger.Named("hub")}, sinks.NewLogSink(logger.Named("events")))
	l := loop.New(loop.Config{Logger: logger.Named("loop")})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Close(closeCtx); err != nil {
			logger.Warn("loop close failed", zap.Error(err))
		}
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("hub close failed", zap.Error(err))
		}
	}()

	segment := opts.scale(opts.duration)
	printer := progress.EmitterFunc(func(evt progress.Event) {
		line := fmt.Sprintf("%-15s segment=%d/%d progress=%.2f", evt.Stage, evt.Segment+1, evt.SegmentCount, evt.Progress)
		if evt.Cause != "" {
			line += " cause=" + string(evt.Cause)
		}
		if evt.Dur > 0 {
			line += " dur=" + evt.Dur.Round(time.Millisecond).String()
		}
		fmt.Fprintln(out, line)
	})
	coord := story.New(opts.segments, l, story.Config{
		SegmentDuration: segment,
		TicksPerSecond:  opts.ticks,
		Emitter:         progress.Tee(hub, printer),
		Logger:          logger.Named("story"),
	})
	done := make(chan struct{})
	if err := l.Call(ctx, func() {
		coord.OnCompleted(func() { close(done) })
		coord.Start()
	}); err != nil {
		return fmt.Errorf("start story: %w", err)
	}

	if opts.pauseAt > 0 {
		if err := pauseOnce(ctx, l, coord, time.Duration(opts.pauseAt*float64(segment)), opts.scale(opts.pauseFor)); err != nil {
			return err
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if err := l.Call(context.Background(), coord.Cancel); err != nil {
			return fmt.Errorf("cancel story: %w", err)
		}
		return nil
	}
}

// pauseOnce pauses after delay and resumes after hold, mirroring a long press.
func pauseOnce(ctx context.Context, l *loop.Loop, coord *story.Coordinator, delay, hold time.Duration) error {
	if !sleep(ctx, delay) {
		return nil
	}
	if err := l.Call(ctx, coord.Pause); err != nil {
		return fmt.Errorf("pause story: %w", err)
	}
	if !sleep(ctx, hold) {
		return nil
	}
	if err := l.Call(ctx, coord.Resume); err != nil {
		return fmt.Errorf("resume story: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

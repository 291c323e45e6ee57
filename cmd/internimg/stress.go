package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RowanDark/strintern/config"
	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/image"
	"github.com/RowanDark/strintern/intern"
	"github.com/RowanDark/strintern/logging"
	"github.com/RowanDark/strintern/ratelimit"
	"github.com/RowanDark/strintern/stats"
)

func newStressCmd() *cobra.Command {
	var (
		vocabulary int
		preload    bool
	)
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Intern random words concurrently while collecting",
		Long: `stress runs --workers goroutines that each make --iterations strong or weak
intern calls over a fixed vocabulary, paced by --rate, while a collector
runs every --collect-interval. At the end it checks that no content is interned twice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			tracker := stats.NewTracker(stats.Options{Logger: logger, Interval: cfg.StatsInterval})
			tracker.Start(cmd.Context().Done())

			rt := newRuntime(cfg, logger, tracker)
			if preload {
				space, err := image.Open(cfg.ImagePath)
				if err != nil {
					return err
				}
				defer space.Close()
				if _, err := space.Load(rt.heap, rt.table); err != nil {
					return fmt.Errorf("loading %s: %w", cfg.ImagePath, err)
				}
			}

			res, err := runStress(cmd.Context(), cfg, rt, vocabulary, logger)
			snapshot := tracker.Stop()
			if err != nil {
				return err
			}
			logger.Infof("Stress finished: %d calls, %d out-of-memory, %d collections", res.calls, res.outOfMemory, rt.collector.Cycles())
			logger.Infof("Intern statistics: %s", stats.Render(snapshot))
			return rt.table.Dump(cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&vocabulary, "vocabulary", 1000, "Number of distinct words to draw from")
	cmd.Flags().BoolVar(&preload, "preload", false, "Load --image before stressing")
	return cmd
}

type stressResult struct {
	calls       int
	outOfMemory int
}

func runStress(ctx context.Context, cfg *config.Config, rt *runtime, vocabulary int, logger *logging.Logger) (stressResult, error) {
	if vocabulary <= 0 {
		return stressResult{}, fmt.Errorf("vocabulary must be positive")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		if cfg.CollectInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.CollectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rt.collector.Collect()
			}
		}
	}()

	limiter := ratelimit.New(cfg.Rate, 0)
	results := make([]stressResult, cfg.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(w), uint64(time.Now().UnixNano())))
			for i := 0; i < cfg.Iterations && gctx.Err() == nil; i++ {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				word := fmt.Sprintf("word-%d", rng.IntN(vocabulary))
				var err error
				if rng.Float64() < cfg.WeakRatio {
					_, err = rt.table.InternWeakString(word)
				} else {
					_, err = rt.table.InternStrongString(word)
				}
				results[w].calls++
				if errors.Is(err, heap.ErrOutOfMemory) {
					results[w].outOfMemory++
					continue
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()
	cancel()
	<-collected

	var total stressResult
	for _, r := range results {
		total.calls += r.calls
		total.outOfMemory += r.outOfMemory
	}
	if err != nil {
		return total, err
	}

	if st := limiter.Status(); st.Granted > 0 && logger.Enabled(logging.LevelDebug) {
		logger.Debugf("stress pacing: %d calls at %.0f/s, %s spent waiting", st.Granted, st.Rate, st.Waited)
	}
	rt.collector.Collect()
	if err := checkUnique(rt.table, rt.heap); err != nil {
		return total, err
	}
	logger.Debugf("stress table: strong=%d weak=%d", rt.table.StrongSize(), rt.table.WeakSize())
	return total, nil
}

// checkUnique verifies that no content is held by two entries.
func checkUnique(table *intern.InternTable, h *heap.Heap) error {
	var err error
	table.WithLock(func(l *intern.Locked) {
		seen := make(map[string]intern.Entry)
		l.VisitInterns(true, true, func(e intern.Entry) {
			if err != nil {
				return
			}
			value := h.Deref(e.Ref).String()
			if prev, ok := seen[value]; ok {
				err = fmt.Errorf("%q interned twice: refs %d and %d", value, prev.Ref, e.Ref)
				return
			}
			seen[value] = e
		})
	})
	return err
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/image"
	"github.com/RowanDark/strintern/intern"
	"github.com/RowanDark/strintern/stats"
)

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [word-list...]",
		Short: "Intern word lists and write them as an image",
		Long: `build interns every word of each input file as a strong string, freezing
the table after each file so every file becomes one image generation. Words
already present in an earlier file are not repeated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := args
			if len(inputs) == 0 {
				inputs = cfg.Inputs
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no word lists given: pass files as arguments or set --input")
			}

			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			tracker := stats.NewTracker(stats.Options{Logger: logger, Interval: cfg.StatsInterval})
			tracker.Start(cmd.Context().Done())
			defer tracker.Stop()

			rt := newRuntime(cfg, logger, tracker)
			dec, err := decoderFor(cfg.Encoding)
			if err != nil {
				return err
			}

			for _, path := range inputs {
				words, err := readWordFile(path, dec)
				if err != nil {
					return err
				}
				if err := internAll(cmd.Context(), rt.table, words, cfg.Workers); err != nil {
					return fmt.Errorf("interning %s: %w", path, err)
				}
				rt.table.AddNewTable()
				logger.Infof("Interned %d words from %s", len(words), path)
			}

			builder := image.NewBuilder(cfg.AppImage, cfg.SetOptions())
			for i, gen := range strongGenerations(rt.table, rt.heap) {
				added := builder.AddGeneration(gen)
				logger.Debugf("generation %d: %d strings", i, added)
			}
			if err := writeImage(cfg.ImagePath, builder); err != nil {
				return err
			}
			logger.Infof("Wrote %d strings to %s", builder.Len(), cfg.ImagePath)
			logger.Infof("Intern statistics: %s", stats.Render(tracker.Snapshot()))
			return rt.table.Dump(cmd.OutOrStdout())
		},
	}
}

// internAll interns words as strong strings using up to workers goroutines.
func internAll(ctx context.Context, table *intern.InternTable, words []string, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, word := range words {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := table.InternStrongString(word)
			return err
		})
	}
	return g.Wait()
}

// strongGenerations returns the strong table's contents grouped by
// generation, oldest first.
func strongGenerations(table *intern.InternTable, h *heap.Heap) [][]*heap.String {
	var gens [][]*heap.String
	table.WithLock(func(l *intern.Locked) {
		l.VisitInterns(true, true, func(e intern.Entry) {
			if !e.Strong {
				return
			}
			for len(gens) <= e.Generation {
				gens = append(gens, nil)
			}
			gens[e.Generation] = append(gens[e.Generation], h.Deref(e.Ref))
		})
	})
	return gens
}

func writeImage(path string, builder *image.Builder) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating image directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating image: %w", err)
	}
	if _, err := builder.WriteTo(file); err != nil {
		file.Close()
		return fmt.Errorf("writing image: %w", err)
	}
	return file.Close()
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/image"
	"github.com/RowanDark/strintern/intern"
	"github.com/RowanDark/strintern/output"
)

func newDumpCmd() *cobra.Command {
	var (
		list     bool
		baseline string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Load an image and report its intern section",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			space, err := image.Open(cfg.ImagePath)
			if err != nil {
				return err
			}
			defer space.Close()

			rt := newRuntime(cfg, logger, nil)
			objects, err := space.Load(rt.heap, rt.table)
			if err != nil {
				return fmt.Errorf("loading %s: %w", cfg.ImagePath, err)
			}
			kind := "boot"
			if space.IsAppImage() {
				kind = "app"
			}
			logger.Infof("Loaded %s image %s: %d objects", kind, cfg.ImagePath, objects)

			if err := rt.table.Dump(cmd.OutOrStdout()); err != nil {
				return err
			}
			if !list && baseline == "" {
				return nil
			}

			records := collectRecords(rt.table, rt.heap)
			if baseline != "" {
				previous, err := output.LoadRecords(baseline)
				if err != nil {
					return fmt.Errorf("loading baseline: %w", err)
				}
				added, removed := output.Diff(previous, records)
				logger.Infof("Compared with %s: %d new, %d removed", baseline, len(added), len(removed))
				records = append(added, removed...)
			}

			writer, err := output.NewWriter(cfg)
			if err != nil {
				return err
			}
			for _, record := range records {
				if err := writer.WriteRecord(record); err != nil {
					writer.Close()
					return err
				}
			}
			return writer.Close()
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List every interned string")
	cmd.Flags().StringVar(&baseline, "baseline", "", "Only list differences from a previous JSON listing")
	return cmd
}

// collectRecords lists every entry of table, oldest generation first.
func collectRecords(table *intern.InternTable, h *heap.Heap) []output.Record {
	var records []output.Record
	table.WithLock(func(l *intern.Locked) {
		l.VisitInterns(true, true, func(e intern.Entry) {
			records = append(records, output.NewRecord(e, h.Deref(e.Ref)))
		})
	})
	return records
}

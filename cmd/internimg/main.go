package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RowanDark/strintern/config"
	"github.com/RowanDark/strintern/gc"
	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/intern"
	"github.com/RowanDark/strintern/logging"
	"github.com/RowanDark/strintern/stats"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "internimg",
	Short: "internimg builds, inspects and stress-tests string intern images.",
	Long: `internimg drives the string intern table outside a full runtime.
It builds snapshot images from word lists, inspects the intern section of an
existing image, and stress-tests concurrent interning against a collector.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ApplyProfile(cfg, cmd); err != nil {
			return err
		}
		return cfg.Validate()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		showVersion, err := cmd.Flags().GetBool("version")
		if err != nil {
			return err
		}
		if showVersion {
			fmt.Fprintf(cmd.OutOrStdout(), "internimg version: %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "built: %s\n", date)
			return nil
		}
		return cmd.Help()
	},
}

func init() {
	cfg = config.BindFlags(rootCmd)
	rootCmd.Flags().BoolP("version", "V", false, "Show internimg version information and exit")
	rootCmd.AddCommand(newBuildCmd(), newDumpCmd(), newStressCmd())
}

func newLogger(cmd *cobra.Command) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	console := cmd.ErrOrStderr()
	if cfg.Silent {
		console = io.Discard
	}

	logger, err := logging.New(logging.Options{Level: level, Console: console, FilePath: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	if cfg.LogFile != "" {
		logger.Infof("File logging enabled: %s", cfg.LogFile)
	}
	return logger, nil
}

// runtime is the heap, collector and intern table a command works against.
type runtime struct {
	heap      *heap.Heap
	collector *gc.Collector
	table     *intern.InternTable
}

func newRuntime(cfg *config.Config, logger *logging.Logger, tracker *stats.Tracker) *runtime {
	h := heap.New(heap.Options{Limit: cfg.HeapLimit, Logger: logger})
	collector := gc.NewCollector(h, gc.Options{Logger: logger})
	table := intern.New(cfg.TableOptions(h, logger, tracker))
	collector.AddRootSource(table)
	collector.AddSystemWeakHolder(table)
	return &runtime{heap: h, collector: collector, table: table}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !strings.HasSuffix(err.Error(), "help requested") {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

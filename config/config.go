package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/RowanDark/strintern/intern"
	"github.com/RowanDark/strintern/internal/hashset"
	"github.com/RowanDark/strintern/logging"
	"github.com/RowanDark/strintern/stats"
)

// Format represents an output format option.
type Format string

// Supported output format options.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatTXT  Format = "txt"
)

const (
	defaultWorkers    = 8
	defaultIterations = 10000
	defaultEncoding   = "utf-8"
)

// Config captures all runtime configuration for the CLI.
type Config struct {
	LogLevel string
	LogFile  string
	Verbose  bool
	Silent   bool

	OutputPath string
	Format     Format
	JSONPretty bool

	ImagePath string
	AppImage  bool
	Encoding  string
	Inputs    []string

	InitialCapacity int
	MinLoadFactor   float64
	MaxLoadFactor   float64
	DebugChecks     bool
	LogNewRoots     bool
	HeapLimit       int

	Workers         int
	Iterations      int
	WeakRatio       float64
	Rate            float64
	CollectInterval time.Duration
	StatsInterval   time.Duration

	ConfigPath string
	Profile    string
}

// BindFlags registers the shared command-line flags and returns a Config
// instance whose fields are populated when Cobra parses flag values.
func BindFlags(cmd *cobra.Command) *Config {
	cfg := &Config{}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFile, "log-file", "", "Optional file to append logs to")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose logging output")
	flags.BoolVarP(&cfg.Silent, "silent", "s", false, "Only log errors")
	flags.StringVarP(&cfg.OutputPath, "output", "o", "", "Optional file path to write entry listings")
	flags.StringVar((*string)(&cfg.Format), "format", string(FormatTXT), "Output format (json, csv, txt)")
	flags.BoolVar(&cfg.JSONPretty, "json-pretty", false, "Indent JSON output")
	flags.StringVarP(&cfg.ImagePath, "image", "i", "strings.img", "Image file to build or inspect")
	flags.BoolVar(&cfg.AppImage, "app-image", false, "Mark built images as app images instead of boot images")
	flags.StringVar(&cfg.Encoding, "encoding", defaultEncoding, "IANA name of the input word list encoding")
	flags.StringSliceVar(&cfg.Inputs, "input", nil, "Word list files to intern, one generation per file")
	flags.IntVar(&cfg.InitialCapacity, "capacity", 0, "Initial entries per intern generation")
	flags.Float64Var(&cfg.MinLoadFactor, "min-load", hashset.DefaultMinLoadFactor, "Minimum hash set load factor")
	flags.Float64Var(&cfg.MaxLoadFactor, "max-load", hashset.DefaultMaxLoadFactor, "Maximum hash set load factor")
	flags.BoolVar(&cfg.DebugChecks, "debug-checks", false, "Turn intern table protocol violations into panics")
	flags.BoolVar(&cfg.LogNewRoots, "log-new-roots", false, "Log new strong roots for incremental root visits")
	flags.IntVar(&cfg.HeapLimit, "heap-limit", 0, "Maximum live heap objects before a collection (0 for unlimited)")
	flags.IntVar(&cfg.Workers, "workers", defaultWorkers, "Number of concurrent interning workers")
	flags.IntVar(&cfg.Iterations, "iterations", defaultIterations, "Intern calls per stress worker")
	flags.Float64Var(&cfg.WeakRatio, "weak-ratio", 0.5, "Fraction of stress interns that are weak")
	flags.Float64Var(&cfg.Rate, "rate", 0, "Maximum stress intern calls per second across all workers (0 for unlimited)")
	flags.DurationVar(&cfg.CollectInterval, "collect-interval", 50*time.Millisecond, "Interval between stress collections (0 disables)")
	flags.DurationVar(&cfg.StatsInterval, "stats-interval", 2*time.Second, "Interval between statistics log lines")
	flags.StringVar(&cfg.ConfigPath, "config", "", "Path to a .strintern.yaml configuration file")
	flags.StringVar(&cfg.Profile, "profile", "", "Configuration profile to apply")

	return cfg
}

// Validate ensures the provided configuration values meet the expected
// constraints and normalises their representation where required.
func (c *Config) Validate() error {
	if c.Silent && c.Verbose {
		return fmt.Errorf("--silent and --verbose cannot be used together")
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch {
	case c.Verbose:
		c.LogLevel = "debug"
	case c.Silent:
		c.LogLevel = "error"
	case c.LogLevel == "":
		c.LogLevel = "info"
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	c.LogFile = strings.TrimSpace(c.LogFile)

	format := strings.ToLower(strings.TrimSpace(string(c.Format)))
	switch Format(format) {
	case FormatJSON, FormatCSV, FormatTXT:
		c.Format = Format(format)
	case "":
		c.Format = FormatTXT
	default:
		return fmt.Errorf("invalid output format %q: expected json, csv, or txt", c.Format)
	}

	c.ImagePath = strings.TrimSpace(c.ImagePath)
	if len(c.Inputs) > 0 {
		inputs := make([]string, 0, len(c.Inputs))
		for _, input := range c.Inputs {
			input = strings.TrimSpace(input)
			if input == "" {
				continue
			}
			inputs = append(inputs, input)
		}
		c.Inputs = inputs
	}
	c.Encoding = strings.ToLower(strings.TrimSpace(c.Encoding))
	if c.Encoding == "" {
		c.Encoding = defaultEncoding
	}

	if c.MinLoadFactor == 0 {
		c.MinLoadFactor = hashset.DefaultMinLoadFactor
	}
	if c.MaxLoadFactor == 0 {
		c.MaxLoadFactor = hashset.DefaultMaxLoadFactor
	}
	if !(c.MinLoadFactor > 0 && c.MinLoadFactor < c.MaxLoadFactor && c.MaxLoadFactor < 1) {
		return fmt.Errorf("invalid load factors %.2f/%.2f: expected 0 < min < max < 1", c.MinLoadFactor, c.MaxLoadFactor)
	}
	if c.InitialCapacity < 0 {
		c.InitialCapacity = 0
	}
	if c.HeapLimit < 0 {
		return fmt.Errorf("invalid heap limit %d", c.HeapLimit)
	}

	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.Iterations <= 0 {
		c.Iterations = defaultIterations
	}
	if c.WeakRatio < 0 || c.WeakRatio > 1 {
		return fmt.Errorf("invalid weak ratio %.2f: expected a value between 0 and 1", c.WeakRatio)
	}
	if c.Rate < 0 {
		return fmt.Errorf("invalid rate %.2f: expected a non-negative value", c.Rate)
	}
	if c.CollectInterval < 0 {
		c.CollectInterval = 0
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 2 * time.Second
	}

	return nil
}

// LiveOutput returns true when results should be sent to stdout instead of a file.
func (c *Config) LiveOutput() bool {
	return strings.TrimSpace(c.OutputPath) == ""
}

// SetOptions returns the hash set sizing for intern generations and images.
func (c *Config) SetOptions() hashset.Options {
	return hashset.Options{
		MinLoadFactor:   c.MinLoadFactor,
		MaxLoadFactor:   c.MaxLoadFactor,
		InitialCapacity: c.InitialCapacity,
	}
}

// TableOptions projects the configuration onto intern table options.
func (c *Config) TableOptions(h intern.Heap, logger *logging.Logger, tracker *stats.Tracker) intern.Options {
	return intern.Options{
		Heap:            h,
		MinLoadFactor:   c.MinLoadFactor,
		MaxLoadFactor:   c.MaxLoadFactor,
		InitialCapacity: c.InitialCapacity,
		DebugChecks:     c.DebugChecks,
		LogNewRoots:     c.LogNewRoots,
		Logger:          logger,
		Stats:           tracker,
	}
}

package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RowanDark/strintern/config"
	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/intern"
)

// Record describes one interned string for listings.
type Record struct {
	Value      string `json:"value"`
	Length     int    `json:"utf16_length"`
	Hash       uint32 `json:"hash"`
	Table      string `json:"table"`
	Generation int    `json:"generation"`
	BootImage  bool   `json:"boot_image"`
	Change     string `json:"change,omitempty"`
}

// NewRecord builds the listing record for an entry whose object is s.
func NewRecord(e intern.Entry, s *heap.String) Record {
	table := "weak"
	if e.Strong {
		table = "strong"
	}
	return Record{
		Value:      s.String(),
		Length:     s.Length(),
		Hash:       s.Hash(),
		Table:      table,
		Generation: e.Generation,
		BootImage:  e.BootImage,
	}
}

// Writer serialises records to stdout or a file in a configured format.
// JSON output is a single array closed by Close.
type Writer struct {
	format        config.Format
	pretty        bool
	destination   io.Writer
	closer        io.Closer
	csvWriter     *csv.Writer
	csvHeaderSent bool
	buffered      *bufio.Writer
	jsonCount     int
}

// NewWriter creates a writer configured according to the provided options.
func NewWriter(cfg *config.Config) (*Writer, error) {
	var (
		dest   io.Writer
		closer io.Closer
	)

	if cfg.LiveOutput() {
		dest = os.Stdout
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}

		file, err := os.Create(cfg.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("opening output file: %w", err)
		}
		dest = file
		closer = file
	}

	return newWriter(dest, closer, cfg.Format, cfg.JSONPretty), nil
}

func newWriter(dest io.Writer, closer io.Closer, format config.Format, pretty bool) *Writer {
	writer := &Writer{format: format, pretty: pretty, closer: closer}
	writer.buffered = bufio.NewWriter(dest)
	writer.destination = writer.buffered
	if format == config.FormatCSV {
		writer.csvWriter = csv.NewWriter(writer.buffered)
	}
	return writer
}

// WriteRecord persists a single record using the configured format.
func (w *Writer) WriteRecord(record Record) error {
	switch w.format {
	case config.FormatJSON:
		return w.writeJSONRecord(record)
	case config.FormatCSV:
		return w.writeCSVRecord(record)
	case config.FormatTXT:
		return w.writeTXTRecord(record)
	default:
		return fmt.Errorf("unsupported output format: %s", w.format)
	}
}

func (w *Writer) writeJSONRecord(record Record) error {
	var (
		data []byte
		err  error
	)
	if w.pretty {
		data, err = json.MarshalIndent(record, "  ", "  ")
	} else {
		data, err = json.Marshal(record)
	}
	if err != nil {
		return err
	}
	prefix := ","
	if w.jsonCount == 0 {
		prefix = "["
	}
	if w.pretty {
		prefix += "\n  "
	}
	w.jsonCount++
	if _, err := io.WriteString(w.destination, prefix); err != nil {
		return err
	}
	_, err = w.destination.Write(data)
	return err
}

func (w *Writer) writeCSVRecord(record Record) error {
	if w.csvWriter == nil {
		return fmt.Errorf("csv writer not initialised")
	}

	if !w.csvHeaderSent {
		header := []string{"value", "utf16_length", "hash", "table", "generation", "boot_image", "change"}
		if err := w.csvWriter.Write(header); err != nil {
			return err
		}
		w.csvHeaderSent = true
	}

	row := []string{
		record.Value,
		strconv.Itoa(record.Length),
		strconv.FormatUint(uint64(record.Hash), 10),
		record.Table,
		strconv.Itoa(record.Generation),
		strconv.FormatBool(record.BootImage),
		record.Change,
	}

	if err := w.csvWriter.Write(row); err != nil {
		return err
	}
	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

func (w *Writer) writeTXTRecord(record Record) error {
	if w.destination == nil {
		return fmt.Errorf("txt writer not initialised")
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Value: %q\n", record.Value))
	builder.WriteString(fmt.Sprintf("Table: %s (generation %d)\n", record.Table, record.Generation))
	builder.WriteString(fmt.Sprintf("Length: %d\n", record.Length))
	builder.WriteString(fmt.Sprintf("Hash: 0x%08x\n", record.Hash))
	if record.BootImage {
		builder.WriteString("Boot image: yes\n")
	}
	if record.Change != "" {
		builder.WriteString(fmt.Sprintf("Change: %s\n", record.Change))
	}
	builder.WriteString("\n")

	_, err := fmt.Fprint(w.destination, builder.String())
	return err
}

// Close terminates JSON output, flushes any buffered data and closes owned
// file handles.
func (w *Writer) Close() error {
	if w.format == config.FormatJSON {
		closing := "[]\n"
		if w.jsonCount > 0 {
			closing = "]\n"
			if w.pretty {
				closing = "\n]\n"
			}
		}
		if _, err := io.WriteString(w.destination, closing); err != nil {
			return err
		}
	}

	if w.csvWriter != nil {
		w.csvWriter.Flush()
		if err := w.csvWriter.Error(); err != nil {
			return err
		}
	}

	if w.buffered != nil {
		if err := w.buffered.Flush(); err != nil {
			return err
		}
	}

	if w.closer != nil {
		return w.closer.Close()
	}

	return nil
}

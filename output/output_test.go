package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/RowanDark/strintern/config"
	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/intern"
)

func TestNewRecord(t *testing.T) {
	s := heap.NewString([]uint16{'a', 'b', 'c'})
	got := NewRecord(intern.Entry{Ref: 3, Strong: true, Generation: 1, BootImage: true}, s)
	want := Record{Value: "abc", Length: 3, Hash: 96354, Table: "strong", Generation: 1, BootImage: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONWriter(t *testing.T) {
	cfg := &config.Config{Format: config.FormatJSON, OutputPath: filepath.Join(t.TempDir(), "out.json")}
	writer, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := []Record{{Value: "main", Length: 4, Table: "strong"}, {Value: "tmp", Length: 3, Table: "weak"}}
	for _, record := range records {
		if err := writer.WriteRecord(record); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	var decoded []Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding json: %v", err)
	}
	if diff := cmp.Diff(records, decoded); diff != "" {
		t.Fatalf("decoded records mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONWriterEmpty(t *testing.T) {
	cfg := &config.Config{Format: config.FormatJSON, OutputPath: filepath.Join(t.TempDir(), "out.json")}
	writer, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected an empty array, got %q", data)
	}
}

func TestJSONWriterPretty(t *testing.T) {
	cfg := &config.Config{Format: config.FormatJSON, OutputPath: filepath.Join(t.TempDir(), "out.json"), JSONPretty: true}
	writer, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := writer.WriteRecord(Record{Value: "pretty", Table: "strong"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if !strings.Contains(string(data), "\n    \"value\"") {
		t.Fatalf("expected pretty-printed json, got: %s", string(data))
	}
	var decoded []Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding pretty json: %v", err)
	}
}

func TestCSVWriter(t *testing.T) {
	cfg := &config.Config{Format: config.FormatCSV, OutputPath: filepath.Join(t.TempDir(), "out.csv")}
	writer, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record := Record{Value: "a,b", Length: 3, Hash: 42, Table: "strong", Change: "new"}
	if err := writer.WriteRecord(record); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	file, err := os.Open(cfg.OutputPath)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and row, got %d", len(rows))
	}
	if len(rows[0]) != 7 || rows[1][0] != "a,b" || rows[1][2] != "42" || rows[1][6] != "new" {
		t.Fatalf("unexpected csv rows %#v", rows)
	}
}

func TestTXTWriter(t *testing.T) {
	cfg := &config.Config{Format: config.FormatTXT, OutputPath: filepath.Join(t.TempDir(), "out.txt")}
	writer, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record := Record{Value: "<init>", Length: 6, Hash: 0x1234, Table: "strong", Generation: 2, BootImage: true}
	if err := writer.WriteRecord(record); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	content := string(data)
	for _, want := range []string{`Value: "<init>"`, "Table: strong (generation 2)", "Hash: 0x00001234", "Boot image: yes"} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %q in txt output: %s", want, content)
		}
	}
}

func TestDiff(t *testing.T) {
	previous := []Record{{Value: "a", Table: "strong"}, {Value: "b", Table: "weak"}}
	current := []Record{{Value: "a", Table: "strong"}, {Value: "b", Table: "strong"}}
	added, removed := Diff(previous, current)
	if diff := cmp.Diff([]Record{{Value: "b", Table: "strong", Change: "new"}}, added); diff != "" {
		t.Fatalf("added mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Record{{Value: "b", Table: "weak", Change: "removed"}}, removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRecords(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "records.json")
	file, err := os.Create(tmp)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	encoder := json.NewEncoder(file)
	records := []Record{{Value: "a"}, {Value: "b"}}
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			t.Fatalf("encode record: %v", err)
		}
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	loaded, err := LoadRecords(tmp)
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	if len(loaded) != len(records) {
		t.Fatalf("expected %d record(s), got %d", len(records), len(loaded))
	}
}

func TestLoadRecordsWriterOutput(t *testing.T) {
	cfg := &config.Config{Format: config.FormatJSON, OutputPath: filepath.Join(t.TempDir(), "out.json"), JSONPretty: true}
	writer, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records := []Record{{Value: "array"}, {Value: "array2"}}
	for _, record := range records {
		if err := writer.WriteRecord(record); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	loaded, err := LoadRecords(cfg.OutputPath)
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	if diff := cmp.Diff(records, loaded); diff != "" {
		t.Fatalf("loaded records mismatch (-want +got):\n%s", diff)
	}
}

package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"unicode"
)

// LoadRecords reads records encoded as newline-delimited JSON or a JSON array.
func LoadRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	for {
		b, err := reader.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, err
		}

		if unicode.IsSpace(rune(b[0])) {
			if _, err := reader.ReadByte(); err != nil {
				return nil, err
			}
			continue
		}

		if b[0] == '[' {
			var records []Record
			decoder := json.NewDecoder(reader)
			if err := decoder.Decode(&records); err != nil {
				return nil, err
			}
			return records, nil
		}

		break
	}

	decoder := json.NewDecoder(reader)
	records := make([]Record, 0)
	for {
		var record Record
		if err := decoder.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

// Diff compares a previous listing with the current one by value and table.
// Current records missing from previous are marked "new"; previous records
// missing from current are returned marked "removed".
func Diff(previous, current []Record) (added, removed []Record) {
	key := func(r Record) string { return r.Table + "\x00" + r.Value }
	seen := make(map[string]struct{}, len(previous))
	for _, r := range previous {
		seen[key(r)] = struct{}{}
	}
	kept := make(map[string]struct{}, len(current))
	for _, r := range current {
		kept[key(r)] = struct{}{}
		if _, ok := seen[key(r)]; !ok {
			r.Change = "new"
			added = append(added, r)
		}
	}
	for _, r := range previous {
		if _, ok := kept[key(r)]; !ok {
			r.Change = "removed"
			removed = append(removed, r)
		}
	}
	return added, removed
}

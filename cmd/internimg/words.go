package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// decoderFor returns a decoder from the named IANA encoding to UTF-8.
func decoderFor(name string) (*encoding.Decoder, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("input encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("input encoding %q is not supported", name)
	}
	return enc.NewDecoder(), nil
}

// readWords returns the non-empty lines of r, decoded with dec. Lines
// starting with '#' are comments.
func readWords(r io.Reader, dec *encoding.Decoder) ([]string, error) {
	if dec != nil {
		r = transform.NewReader(r, dec)
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var words []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

func readWordFile(path string, dec *encoding.Decoder) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	words, err := readWords(file, dec)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return words, nil
}

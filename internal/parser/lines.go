package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// maxLineSize bounds a single input line.
const maxLineSize = 1 << 20

// Line is one input line with its 1-based line number.
type Line struct {
	Num  int
	Text string
}

// ReadLines reads all of r and splits it into lines decoded from charset
// (any WHATWG label, e.g. "windows-1252", "utf-8"). Trailing carriage
// returns and a leading byte order mark are removed.
func ReadLines(r io.Reader, charset string) ([]Line, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return DecodeLines(data, charset)
}

// DecodeLines is ReadLines over an in-memory buffer.
func DecodeLines(data []byte, charset string) ([]Line, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	var src io.Reader = bytes.NewReader(data)
	if charset != "" {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
		}
		src = transform.NewReader(src, enc.NewDecoder())
	}

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines []Line
	for n := 1; sc.Scan(); n++ {
		text := strings.TrimRight(sc.Text(), "\r")
		if n == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}
		lines = append(lines, Line{Num: n, Text: text})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to split input into lines: %w", err)
	}
	return lines, nil
}

// Package extract recovers the JSON result object from the output of the
// benchmark executable. The output mixes progress logs, warnings from fio and
// a trailing summary object; only the last complete object is of interest.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
)

// ExtractJSON returns the rightmost top-level JSON object found in text.
// When no valid object is present, text is returned unchanged.
func ExtractJSON(text string) string {
	spans := objectSpans(text)
	// spans are ordered by start; pick the greatest end, outermost first
	best := -1
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		if best >= 0 && s.end < spans[best].end {
			continue
		}
		if !json.Valid([]byte(text[s.start:s.end])) {
			continue
		}
		if best < 0 || s.end > spans[best].end || s.start < spans[best].start {
			best = i
		}
	}
	if best < 0 {
		return text
	}
	return text[spans[best].start:spans[best].end]
}

type span struct {
	start int
	end   int // exclusive
}

// objectSpans returns every balanced {...} span starting at an opening brace.
// Braces inside string literals do not count.
func objectSpans(text string) []span {
	var out []span
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := balanced(text, start); ok {
			out = append(out, span{start: start, end: end})
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return out
}

func balanced(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// ParseResult recovers the result object from output and decodes it.
func ParseResult(output string) (model.BenchmarkResult, error) {
	text := ExtractJSON(output)
	if strings.TrimSpace(text) == "" {
		return nil, diskerrors.NewJSONParsingError("benchmark produced no output", 0, 0, "")
	}

	dec := json.NewDecoder(strings.NewReader(text))
	var result model.BenchmarkResult
	if err := dec.Decode(&result); err != nil {
		return nil, parsingError(text, err)
	}
	if result == nil {
		return nil, diskerrors.NewJSONParsingError("benchmark result is not a JSON object", 1, 1, text)
	}
	// ExtractJSON returns the input unchanged when it did not find an
	// object, in which case trailing data means no object was found
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		line, col := lineColumn(text, dec.InputOffset())
		return nil, diskerrors.NewJSONParsingError("unexpected data after benchmark result", line, col, text)
	}
	return result, nil
}

func parsingError(text string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	case errors.Is(err, io.ErrUnexpectedEOF):
		offset = int64(len(text))
	}
	line, col := lineColumn(text, offset)
	return diskerrors.NewJSONParsingError(
		fmt.Sprintf("parsing benchmark result: %s", err),
		line, col, previewAround(text, offset),
	)
}

// lineColumn converts a byte offset into 1-based line and column.
func lineColumn(text string, offset int64) (int, int) {
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}
	before := []byte(text[:offset])
	line := bytes.Count(before, []byte{'\n'}) + 1
	col := len(before) - bytes.LastIndexByte(before, '\n')
	return line, col
}

func previewAround(text string, offset int64) string {
	from := max(int(offset)-diskerrors.PreviewLimit/2, 0)
	from = min(from, len(text))
	for from < len(text) && !utf8.RuneStart(text[from]) {
		from++
	}
	return text[from:]
}

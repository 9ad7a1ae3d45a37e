package ingest

import (
	"bytes"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format identifies one of the supported program input shapes.
type Format int

const (
	FormatTable Format = iota + 1
	FormatMarkup
	FormatLegacy
)

// formatTags maps every accepted tag (canonical first) to its Format.
var formatTags = []struct {
	tag    string
	format Format
}{
	{"table", FormatTable},
	{"markup", FormatMarkup},
	{"legacy-hierarchical", FormatLegacy},
	{"csv", FormatTable},
	{"conf-xml", FormatMarkup},
	{"conf-json", FormatLegacy},
}

// ParseFormat resolves an upload format tag. Tags are case-insensitive.
func ParseFormat(tag string) (Format, error) {
	t := strings.ToLower(strings.TrimSpace(tag))
	for _, ft := range formatTags {
		if ft.tag == t {
			return ft.format, nil
		}
	}
	return 0, &FormatError{Format: tag}
}

// FormatTags lists the canonical tags.
func FormatTags() []string {
	return []string{"table", "markup", "legacy-hierarchical"}
}

func (f Format) String() string {
	switch f {
	case FormatTable:
		return "table"
	case FormatMarkup:
		return "markup"
	case FormatLegacy:
		return "legacy-hierarchical"
	default:
		return "unknown"
	}
}

// Parser turns raw upload content into a Graph. Implementations never touch
// persistence.
type Parser interface {
	Parse(raw []byte, loc *time.Location) (*Graph, error)
}

// Parser returns the parser for f.
func (f Format) Parser() (Parser, error) {
	switch f {
	case FormatTable:
		return TableParser{}, nil
	case FormatMarkup:
		return MarkupParser{}, nil
	case FormatLegacy:
		return LegacyParser{}, nil
	}
	return nil, &FormatError{Format: f.String()}
}

// decodeInput strips a UTF-8/UTF-16 byte order mark, converting UTF-16 input
// to UTF-8, and replaces invalid UTF-8 sequences with U+FFFD.
func decodeInput(raw []byte) ([]byte, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), dec))
	if err != nil {
		return nil, err
	}
	return sanitizeUTF8(out), nil
}

func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.WriteRune(r)
		}
		data = data[size:]
	}
	return buf.Bytes()
}

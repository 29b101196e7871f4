// Package local reads input tables from and writes reports to the local filesystem.
package local

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/shpitdev/geodatacheck/pkg/enrichment"
	"github.com/shpitdev/geodatacheck/pkg/pipeline/core"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding names reported by Decode.
const (
	EncodingUTF8        = "utf-8"
	EncodingUTF8BOM     = "utf-8-bom"
	EncodingUTF16       = "utf-16"
	EncodingWindows1252 = "windows-1252"
)

// ErrEmptyTable is returned for input without a header row.
var ErrEmptyTable = errors.New("input has no header row")

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts raw input to UTF-8 and strips any byte order mark.
// Input that is neither BOM-marked nor valid UTF-8 is read as Windows-1252, the
// encoding spreadsheet exports on Swiss desktops fall back to.
func Decode(data []byte) ([]byte, string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return data[len(bomUTF8):], EncodingUTF8BOM, nil
	case bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return nil, "", fmt.Errorf("decode utf-16: %w", err)
		}
		return out, EncodingUTF16, nil
	case utf8.Valid(data):
		return data, EncodingUTF8, nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode windows-1252: %w", err)
	}
	return out, EncodingWindows1252, nil
}

// sniffDelimiter picks ';' when the header line has more semicolons than commas.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

// ReadTable parses a delimited table with a header row.
//
// Header cells are trimmed; blank or repeated header names get positional names
// ("column_3") so every cell stays addressable. Short rows are padded with empty cells,
// extra cells beyond the header are dropped, and fully blank lines are skipped.
func ReadTable(r io.Reader) (enrichment.Table, string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return enrichment.Table{}, "", fmt.Errorf("read input: %w", err)
	}
	data, enc, err := Decode(raw)
	if err != nil {
		return enrichment.Table{}, "", err
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return enrichment.Table{}, enc, ErrEmptyTable
	}
	if err != nil {
		return enrichment.Table{}, enc, fmt.Errorf("read header: %w", err)
	}
	columns := headerNames(header)

	table := enrichment.Table{Columns: columns}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return enrichment.Table{}, enc, fmt.Errorf("read row %d: %w", len(table.Rows), err)
		}
		if blank(rec) {
			continue
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, enc, nil
}

func headerNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" || seen[name] {
			name = fmt.Sprintf("column_%d", i+1)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

var (
	_ core.TableSource[enrichment.Table]  = (*FileSource)(nil)
	_ core.ReportSink[*enrichment.Result] = FileSink{}
)

// FileSource loads a table from a CSV file.
type FileSource struct {
	Path string

	// Encoding is set by Load to the detected input encoding.
	Encoding string
}

// Load implements core.TableSource.
func (s *FileSource) Load(ctx context.Context) (enrichment.Table, error) {
	if err := ctx.Err(); err != nil {
		return enrichment.Table{}, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return enrichment.Table{}, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	t, enc, err := ReadTable(f)
	if err != nil {
		return enrichment.Table{}, fmt.Errorf("%s: %w", s.Path, err)
	}
	s.Encoding = enc
	return t, nil
}

package mapping

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// LoadResult accounts for every data row a source produced. Loaded, Skipped
// and Filtered partition Rows; EmptyCodes and EmptyDescriptions break down
// the skips.
type LoadResult struct {
	Rows              int `json:"rows"`
	Loaded            int `json:"loaded"`
	Skipped           int `json:"skipped"`
	Filtered          int `json:"filtered,omitempty"`
	EmptyCodes        int `json:"empty_codes,omitempty"`
	EmptyDescriptions int `json:"empty_descriptions,omitempty"`
}

// Source yields code/description entries for table construction. Loading is
// a startup-time, read-only operation; malformed rows are skipped and
// counted rather than failing the load.
type Source interface {
	Load(ctx context.Context) ([]CodeEntry, LoadResult, error)
}

// FileSource loads entries from a delimited text file. Files ending in .gz
// are transparently gunzipped. Single-character delimiters are parsed with
// full quoting support; longer delimiters are split literally.
//
// The zero column indexes are valid (code in the first column); set
// FilterValue to keep only rows whose FilterColumn matches, which is how a
// combined dictionary is narrowed to one code version.
type FileSource struct {
	Path              string
	Delimiter         string
	CodeColumn        int
	DescriptionColumn int
	// Header skips the first non-blank row.
	Header bool
	// FilterColumn/FilterValue drop non-matching rows before accounting
	// them as loaded. The filter is active only when FilterValue is
	// non-empty.
	FilterColumn int
	FilterValue  string
}

// Load reads the whole file into entries. Rows missing a required column
// are skipped and counted; rows whose code or description is blank after
// trimming are skipped and broken out in the result. Duplicate codes are
// kept so the table can apply its last-wins rule.
func (s FileSource) Load(ctx context.Context) ([]CodeEntry, LoadResult, error) {
	var res LoadResult

	if s.Path == "" {
		return nil, res, errors.New("file source: path is required")
	}
	if s.CodeColumn < 0 || s.DescriptionColumn < 0 {
		return nil, res, errors.New("file source: column indexes must not be negative")
	}
	if err := ctx.Err(); err != nil {
		return nil, res, err
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, res, fmt.Errorf("open mapping file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(s.Path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, res, fmt.Errorf("gunzip mapping file: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	delim := s.Delimiter
	if delim == "" {
		delim = ","
	}

	required := s.CodeColumn
	if s.DescriptionColumn > required {
		required = s.DescriptionColumn
	}
	if s.FilterValue != "" && s.FilterColumn > required {
		required = s.FilterColumn
	}

	var entries []CodeEntry
	skipHeader := s.Header
	collect := func(fields []string) {
		if skipHeader {
			skipHeader = false
			return
		}
		res.Rows++
		if len(fields) <= required {
			res.Skipped++
			return
		}
		if s.FilterValue != "" && strings.TrimSpace(fields[s.FilterColumn]) != s.FilterValue {
			res.Filtered++
			return
		}
		code := strings.TrimSpace(fields[s.CodeColumn])
		desc := strings.TrimSpace(fields[s.DescriptionColumn])
		if code == "" {
			res.Skipped++
			res.EmptyCodes++
			return
		}
		if desc == "" {
			res.Skipped++
			res.EmptyDescriptions++
			return
		}
		entries = append(entries, CodeEntry{Code: code, Description: desc})
		res.Loaded++
	}

	if utf8.RuneCountInString(delim) == 1 {
		err = readCSVRows(r, delim, collect)
	} else {
		err = readSplitRows(r, delim, collect)
	}
	if err != nil {
		return nil, res, fmt.Errorf("read mapping file %s: %w", s.Path, err)
	}
	return entries, res, nil
}

// readCSVRows parses single-rune-delimited input with encoding/csv so
// quoted fields containing the delimiter survive intact.
func readCSVRows(r io.Reader, delim string, collect func([]string)) error {
	cr := csv.NewReader(r)
	cr.Comma, _ = utf8.DecodeRuneInString(delim)
	cr.FieldsPerRecord = -1 // allow variable column count
	cr.LazyQuotes = true

	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		collect(fields)
	}
}

// readSplitRows handles multi-character delimiters with a literal split.
// The scanner buffer is enlarged because clinical description rows can
// exceed the default line limit.
func readSplitRows(r io.Reader, delim string, collect func([]string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		collect(strings.Split(line, delim))
	}
	return scanner.Err()
}

// staticSource serves a fixed entry slice, for registries assembled in
// memory.
type staticSource struct {
	entries []CodeEntry
}

// NewStaticSource wraps already-materialized entries in the Source
// interface. Entries with blank codes or descriptions are skipped with the
// same accounting as the file source.
func NewStaticSource(entries []CodeEntry) Source {
	return staticSource{entries: entries}
}

func (s staticSource) Load(context.Context) ([]CodeEntry, LoadResult, error) {
	var res LoadResult
	out := make([]CodeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		res.Rows++
		code := strings.TrimSpace(e.Code)
		desc := strings.TrimSpace(e.Description)
		if code == "" {
			res.Skipped++
			res.EmptyCodes++
			continue
		}
		if desc == "" {
			res.Skipped++
			res.EmptyDescriptions++
			continue
		}
		out = append(out, CodeEntry{Code: code, Description: desc})
		res.Loaded++
	}
	return out, res, nil
}

// NewTableFromSource loads a source and builds a table from the result.
func NewTableFromSource(ctx context.Context, name string, cfg TableConfig, src Source) (*Table, LoadResult, error) {
	entries, res, err := src.Load(ctx)
	if err != nil {
		return nil, res, err
	}
	return NewTable(name, cfg, entries), res, nil
}

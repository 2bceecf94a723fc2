package enrichment

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"
)

// StreamConfig controls CSV stream enrichment.
type StreamConfig struct {
	// CodeColumn names the input column holding the code to resolve.
	CodeColumn string
	// DescriptionColumn names the appended output column. Empty selects
	// "description".
	DescriptionColumn string
	// Delimiter is the field separator, a single rune. Empty selects ",".
	Delimiter string
	// Workers sizes the resolution pool. Non-positive selects
	// runtime.NumCPU().
	Workers int
}

// StreamResult summarizes one Stream call.
type StreamResult struct {
	Processed int `json:"processed"`
	Resolved  int `json:"resolved"`
	Defaulted int `json:"defaulted"`
}

// Stream copies CSV rows from r to w, appending a description column
// resolved from cfg.CodeColumn. The header row is required and is written
// back with the new column. Row order is preserved; resolution itself runs
// on a worker pool. Rows too short to carry the code column pass through
// with the default description.
func (e *Enricher) Stream(ctx context.Context, r io.Reader, w io.Writer, cfg StreamConfig) (*StreamResult, error) {
	if strings.TrimSpace(cfg.CodeColumn) == "" {
		return nil, fmt.Errorf("stream: code column is required")
	}
	delim := cfg.Delimiter
	if delim == "" {
		delim = ","
	}
	if utf8.RuneCountInString(delim) != 1 {
		return nil, fmt.Errorf("stream: delimiter must be a single character, got %q", delim)
	}
	descColumn := cfg.DescriptionColumn
	if descColumn == "" {
		descColumn = "description"
	}

	cr := csv.NewReader(r)
	cr.Comma, _ = utf8.DecodeRuneInString(delim)
	// allow variable column count
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("stream: input is empty")
		}
		return nil, fmt.Errorf("stream: read header: %w", err)
	}

	codeIdx := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), cfg.CodeColumn) {
			codeIdx = i
			break
		}
	}
	if codeIdx < 0 {
		return nil, fmt.Errorf("stream: column %q not found in header", cfg.CodeColumn)
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("stream: read rows: %w", err)
	}

	descs := make([]string, len(rows))
	resolvedFlags := make([]bool, len(rows))

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	jobs := make(chan int, workers*2)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				row := rows[idx]
				if codeIdx >= len(row) {
					descs[idx] = e.defaultDesc
					e.processed.Add(1)
					e.defaulted.Add(1)
					continue
				}
				desc, found := e.resolve(row[codeIdx])
				descs[idx] = desc
				resolvedFlags[idx] = found
			}
		}()
	}

	var feedErr error
feed:
	for i := range rows {
		select {
		case <-ctx.Done():
			feedErr = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if feedErr != nil {
		return nil, feedErr
	}

	cw := csv.NewWriter(w)
	cw.Comma = cr.Comma
	if err := cw.Write(append(header, descColumn)); err != nil {
		return nil, fmt.Errorf("stream: write header: %w", err)
	}
	res := &StreamResult{Processed: len(rows)}
	for i, row := range rows {
		if err := cw.Write(append(row, descs[i])); err != nil {
			return nil, fmt.Errorf("stream: write row: %w", err)
		}
		if resolvedFlags[i] {
			res.Resolved++
		} else {
			res.Defaulted++
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("stream: flush: %w", err)
	}
	return res, nil
}

package mapping

import "context"

// ValidationReport summarizes the quality of a mapping source without
// building a table from it. DuplicateCodes counts loadable rows that
// collide on a normalized code; those rows would resolve last-wins at
// table construction.
type ValidationReport struct {
	TotalRows         int         `json:"total_rows"`
	Loaded            int         `json:"loaded"`
	Skipped           int         `json:"skipped"`
	Filtered          int         `json:"filtered,omitempty"`
	UniqueCodes       int         `json:"unique_codes"`
	DuplicateCodes    int         `json:"duplicate_codes"`
	EmptyCodes        int         `json:"empty_codes"`
	EmptyDescriptions int         `json:"empty_descriptions"`
	Sample            []CodeEntry `json:"sample,omitempty"`
}

// ValidateSource consumes src read-only and reports on its rows. Up to
// sampleSize leading entries are included verbatim for eyeballing the
// column mapping; pass 0 to omit the sample.
func ValidateSource(ctx context.Context, src Source, sampleSize int) (*ValidationReport, error) {
	entries, res, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}

	unique := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		unique[normalizeCode(e.Code)] = struct{}{}
	}

	rep := &ValidationReport{
		TotalRows:         res.Rows,
		Loaded:            res.Loaded,
		Skipped:           res.Skipped,
		Filtered:          res.Filtered,
		UniqueCodes:       len(unique),
		DuplicateCodes:    res.Loaded - len(unique),
		EmptyCodes:        res.EmptyCodes,
		EmptyDescriptions: res.EmptyDescriptions,
	}
	if sampleSize > 0 {
		n := sampleSize
		if n > len(entries) {
			n = len(entries)
		}
		rep.Sample = append([]CodeEntry(nil), entries[:n]...)
	}
	return rep, nil
}

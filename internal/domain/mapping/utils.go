package mapping

import (
	"encoding/csv"
	"fmt"
	"io"
)

// MergeTables combines two tables into a new table under name. Entries from
// a keep their positions, entries only in b are appended, and where both
// define a code the description from b wins. The merged table inherits a's
// code type, tokens and floor; lookup stats start fresh.
func MergeTables(name string, a, b *Table) *Table {
	entries := append(a.Entries(), b.Entries()...)
	cfg := TableConfig{
		CodeType: a.CodeType(),
		Tokens:   a.Tokens(),
		Floor:    a.Floor(),
	}
	return NewTable(name, cfg, entries)
}

// MissingCodes returns the raw values whose normalized codes are absent
// from t. Absence is exact, hierarchical fallback does not apply. The
// result preserves first-seen order and holds one raw value per distinct
// normalized code.
func MissingCodes(t *Table, raws []string) []string {
	seen := make(map[string]struct{}, len(raws))
	var missing []string
	for _, raw := range raws {
		code := normalizeCode(Normalize(raw).Code)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if !t.CodeExists(raw) {
			missing = append(missing, raw)
		}
	}
	return missing
}

// ExportCSV writes the table as CSV with a code,description header,
// entries in insertion order.
func ExportCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"code", "description"}); err != nil {
		return fmt.Errorf("export csv: write header: %w", err)
	}
	for _, e := range t.Entries() {
		if err := cw.Write([]string{e.Code, e.Description}); err != nil {
			return fmt.Errorf("export csv: write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export csv: flush: %w", err)
	}
	return nil
}

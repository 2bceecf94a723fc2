package mapping

import "strings"

// DefaultFloor is the shortest prefix length tried during hierarchical
// fallback. Three characters keeps fallback inside an ICD category
// (e.g. "A00") instead of degrading into single-letter chapter matches.
const DefaultFloor = 3

// CodeEntry is a single code/description pair as loaded from a source.
type CodeEntry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// TableConfig carries the optional construction parameters for a Table.
// The zero value is valid: no code type, no routing tokens and the
// default fallback floor.
type TableConfig struct {
	// CodeType labels the coding system held by the table, e.g. "icd10ca".
	CodeType string
	// Tokens are the composite-prefix aliases that route to this table,
	// e.g. "ICD10CA", "ICD-10-CA". Matching is case-insensitive.
	Tokens []string
	// Floor is the minimum prefix length for hierarchical fallback.
	// Values below 1 select DefaultFloor.
	Floor int
}

// Table is an immutable in-memory mapping from normalized codes to
// descriptions. Construction upper-cases and trims every code; lookups
// normalize their input the same way, so "j44.9 " and "J44.9" resolve
// identically. Insertion order is preserved for Search and export.
//
// All lookup methods are safe for concurrent use; the only mutable state
// is the atomic lookup counters.
type Table struct {
	name     string
	codeType string
	tokens   []string
	floor    int
	descs    map[string]string
	order    []string
	counters lookupCounters
}

// NewTable builds a table from loaded entries. Codes are normalized and
// duplicate codes resolve last-wins: the later description replaces the
// earlier one while the code keeps its first insertion position. Entries
// whose code is empty after trimming are dropped.
func NewTable(name string, cfg TableConfig, entries []CodeEntry) *Table {
	floor := cfg.Floor
	if floor < 1 {
		floor = DefaultFloor
	}

	t := &Table{
		name:     name,
		codeType: cfg.CodeType,
		tokens:   append([]string(nil), cfg.Tokens...),
		floor:    floor,
		descs:    make(map[string]string, len(entries)),
		order:    make([]string, 0, len(entries)),
	}
	for _, e := range entries {
		code := normalizeCode(e.Code)
		if code == "" {
			continue
		}
		if _, seen := t.descs[code]; !seen {
			t.order = append(t.order, code)
		}
		t.descs[code] = strings.TrimSpace(e.Description)
	}
	return t
}

// normalizeCode applies the storage normalization shared by construction
// and lookup.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Name returns the table name it was registered under.
func (t *Table) Name() string { return t.name }

// CodeType returns the coding system label, which may be empty.
func (t *Table) CodeType() string { return t.codeType }

// Tokens returns a copy of the routing tokens.
func (t *Table) Tokens() []string {
	return append([]string(nil), t.tokens...)
}

// Floor returns the hierarchical fallback floor.
func (t *Table) Floor() int { return t.floor }

// Size returns the number of distinct codes held.
func (t *Table) Size() int { return len(t.descs) }

// GetDescription resolves raw to a description. The input may be a plain or
// composite code; composite prefixes are stripped before matching. An exact
// match is tried first, then progressively shorter prefixes down to the
// fallback floor, so "A000X" can resolve via "A000" or "A00". The first hit
// wins. Every call counts as one lookup; a resolution at any depth counts
// as one hit.
func (t *Table) GetDescription(raw string) (string, bool) {
	t.counters.recordLookup()

	code := normalizeCode(Normalize(raw).Code)
	if code == "" {
		return "", false
	}
	if desc, ok := t.descs[code]; ok {
		t.counters.recordHit()
		return desc, true
	}
	for l := len(code) - 1; l >= t.floor; l-- {
		if desc, ok := t.descs[code[:l]]; ok {
			t.counters.recordHit()
			return desc, true
		}
	}
	return "", false
}

// DescriptionOr resolves raw like GetDescription but substitutes def on a
// miss, mirroring a map lookup with a default.
func (t *Table) DescriptionOr(raw, def string) string {
	if desc, ok := t.GetDescription(raw); ok {
		return desc
	}
	return def
}

// GetDescriptions resolves a batch of raw codes, preserving input order.
// Each element counts toward the lookup stats individually; misses yield def.
func (t *Table) GetDescriptions(raws []string, def string) []string {
	out := make([]string, len(raws))
	for i, raw := range raws {
		out[i] = t.DescriptionOr(raw, def)
	}
	return out
}

// CodeExists reports whether raw matches a stored code exactly after
// normalization. No hierarchical fallback applies and no stats are recorded,
// so existence probes do not skew the hit rate.
func (t *Table) CodeExists(raw string) bool {
	code := normalizeCode(Normalize(raw).Code)
	if code == "" {
		return false
	}
	_, ok := t.descs[code]
	return ok
}

// Search returns entries whose code or description contains query,
// case-insensitively, in insertion order. maxResults caps the result set;
// a non-positive cap returns every match. Search does not touch the
// lookup stats.
func (t *Table) Search(query string, maxResults int) []CodeEntry {
	q := strings.ToLower(query)
	var out []CodeEntry
	for _, code := range t.order {
		desc := t.descs[code]
		if strings.Contains(strings.ToLower(code), q) || strings.Contains(strings.ToLower(desc), q) {
			out = append(out, CodeEntry{Code: code, Description: desc})
			if maxResults > 0 && len(out) >= maxResults {
				break
			}
		}
	}
	return out
}

// Codes returns every stored code in insertion order.
func (t *Table) Codes() []string {
	return append([]string(nil), t.order...)
}

// Entries returns every code/description pair in insertion order.
func (t *Table) Entries() []CodeEntry {
	out := make([]CodeEntry, 0, len(t.order))
	for _, code := range t.order {
		out = append(out, CodeEntry{Code: code, Description: t.descs[code]})
	}
	return out
}

// Stats returns a snapshot of the table's lookup counters.
func (t *Table) Stats() StatsSnapshot {
	return t.counters.snapshot(len(t.descs))
}

// ResetStats zeroes the lookup counters. The code content is unaffected.
func (t *Table) ResetStats() {
	t.counters.reset()
}

package mapping

import (
	"reflect"
	"sync"
	"testing"
)

func newTestTable() *Table {
	return NewTable("icd10ca", TableConfig{CodeType: CodeTypeDiagnosis}, []CodeEntry{
		{Code: "A00", Description: "Cholera"},
		{Code: "A000", Description: "Cholera due to Vibrio cholerae"},
		{Code: "J44.9", Description: "COPD, unspecified"},
		{Code: "E11", Description: "Type 2 diabetes mellitus"},
	})
}

// =========== Construction ===========

func TestNewTable_NormalizesCodes(t *testing.T) {
	table := NewTable("t", TableConfig{}, []CodeEntry{
		{Code: " j44.9 ", Description: "COPD"},
	})
	if desc, ok := table.GetDescription("J44.9"); !ok || desc != "COPD" {
		t.Errorf("expected COPD, got %q (found=%v)", desc, ok)
	}
}

func TestNewTable_DuplicateLastWins(t *testing.T) {
	table := NewTable("t", TableConfig{}, []CodeEntry{
		{Code: "A00", Description: "first"},
		{Code: "B11", Description: "other"},
		{Code: "a00", Description: "second"},
	})
	if table.Size() != 2 {
		t.Fatalf("expected 2 codes, got %d", table.Size())
	}
	if desc, _ := table.GetDescription("A00"); desc != "second" {
		t.Errorf("expected later description to win, got %q", desc)
	}
	// The duplicate keeps its first insertion position.
	want := []string{"A00", "B11"}
	if got := table.Codes(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected order %v, got %v", want, got)
	}
}

func TestNewTable_DropsEmptyCodes(t *testing.T) {
	table := NewTable("t", TableConfig{}, []CodeEntry{
		{Code: "  ", Description: "blank"},
		{Code: "A00", Description: "Cholera"},
	})
	if table.Size() != 1 {
		t.Errorf("expected 1 code, got %d", table.Size())
	}
}

func TestNewTable_FloorDefault(t *testing.T) {
	table := NewTable("t", TableConfig{}, nil)
	if table.Floor() != DefaultFloor {
		t.Errorf("expected floor %d, got %d", DefaultFloor, table.Floor())
	}
	table = NewTable("t", TableConfig{Floor: 4}, nil)
	if table.Floor() != 4 {
		t.Errorf("expected floor 4, got %d", table.Floor())
	}
}

// =========== Lookup ===========

func TestGetDescription_Exact(t *testing.T) {
	table := newTestTable()
	desc, ok := table.GetDescription("J44.9")
	if !ok {
		t.Fatal("expected hit")
	}
	if desc != "COPD, unspecified" {
		t.Errorf("unexpected description %q", desc)
	}
}

func TestGetDescription_CaseInsensitive(t *testing.T) {
	table := newTestTable()
	if _, ok := table.GetDescription("j44.9"); !ok {
		t.Error("expected lower-case input to hit")
	}
}

func TestGetDescription_CompositeStripped(t *testing.T) {
	table := newTestTable()
	desc, ok := table.GetDescription("MEDS//ICD10CA//2018//J44.9")
	if !ok || desc != "COPD, unspecified" {
		t.Errorf("expected composite input to resolve, got %q (found=%v)", desc, ok)
	}
}

func TestGetDescription_Fallback(t *testing.T) {
	table := newTestTable()
	// A0001 is absent; the longest stored prefix is A000.
	desc, ok := table.GetDescription("A0001")
	if !ok {
		t.Fatal("expected fallback hit")
	}
	if desc != "Cholera due to Vibrio cholerae" {
		t.Errorf("expected longest prefix to win, got %q", desc)
	}
}

func TestGetDescription_FallbackFloor(t *testing.T) {
	table := NewTable("t", TableConfig{Floor: 3}, []CodeEntry{
		{Code: "AB", Description: "two chars"},
	})
	// Exact match below the floor still works.
	if _, ok := table.GetDescription("AB"); !ok {
		t.Error("expected exact hit below floor")
	}
	// Fallback never probes prefixes shorter than the floor.
	if _, ok := table.GetDescription("ABX"); ok {
		t.Error("expected miss: fallback must stop at the floor")
	}
}

func TestGetDescription_EmptyInput(t *testing.T) {
	table := newTestTable()
	if _, ok := table.GetDescription(""); ok {
		t.Error("expected miss for empty input")
	}
	stats := table.Stats()
	if stats.Lookups != 1 || stats.Hits != 0 {
		t.Errorf("expected empty input to count as a miss, got %+v", stats)
	}
}

func TestDescriptionOr_Default(t *testing.T) {
	table := newTestTable()
	if got := table.DescriptionOr("ZZZ99", "Unknown"); got != "Unknown" {
		t.Errorf("expected default, got %q", got)
	}
	if got := table.DescriptionOr("E11", "Unknown"); got != "Type 2 diabetes mellitus" {
		t.Errorf("expected stored description, got %q", got)
	}
}

func TestGetDescriptions_Batch(t *testing.T) {
	table := newTestTable()
	got := table.GetDescriptions([]string{"E11", "ZZZ99", "A00"}, "Unknown")
	want := []string{"Type 2 diabetes mellitus", "Unknown", "Cholera"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	stats := table.Stats()
	if stats.Lookups != 3 || stats.Hits != 2 {
		t.Errorf("expected 3 lookups / 2 hits, got %+v", stats)
	}
}

func TestCodeExists_ExactOnly(t *testing.T) {
	table := newTestTable()
	if !table.CodeExists("a000") {
		t.Error("expected normalized exact match to exist")
	}
	// A0001 resolves via fallback but does not exist exactly.
	if table.CodeExists("A0001") {
		t.Error("expected fallback not to apply to existence checks")
	}
	if stats := table.Stats(); stats.Lookups != 0 {
		t.Errorf("expected existence checks to leave stats untouched, got %+v", stats)
	}
}

// =========== Search ===========

func TestSearch_ByCode(t *testing.T) {
	table := newTestTable()
	results := table.Search("a00", 0)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Code != "A00" || results[1].Code != "A000" {
		t.Errorf("expected insertion order, got %v", results)
	}
}

func TestSearch_ByDescription(t *testing.T) {
	table := newTestTable()
	results := table.Search("DIABETES", 0)
	if len(results) != 1 || results[0].Code != "E11" {
		t.Errorf("expected E11, got %v", results)
	}
}

func TestSearch_MaxResults(t *testing.T) {
	table := newTestTable()
	results := table.Search("a00", 1)
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestSearch_NoMatch(t *testing.T) {
	table := newTestTable()
	if results := table.Search("xyzzy", 0); len(results) != 0 {
		t.Errorf("expected no results, got %v", results)
	}
}

func TestSearch_DoesNotTouchStats(t *testing.T) {
	table := newTestTable()
	table.Search("cholera", 0)
	if stats := table.Stats(); stats.Lookups != 0 {
		t.Errorf("expected search to leave stats untouched, got %+v", stats)
	}
}

// =========== Stats ===========

func TestStats_HitRate(t *testing.T) {
	table := newTestTable()
	table.GetDescription("A00")
	table.GetDescription("E11")
	table.GetDescription("ZZZ99")

	stats := table.Stats()
	if stats.TotalCodes != 4 {
		t.Errorf("expected 4 total codes, got %d", stats.TotalCodes)
	}
	if stats.Lookups != 3 || stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("unexpected counters: %+v", stats)
	}
	want := 2.0 / 3.0
	if stats.HitRate != want {
		t.Errorf("expected hit rate %f, got %f", want, stats.HitRate)
	}
}

func TestStats_ZeroLookups(t *testing.T) {
	table := newTestTable()
	stats := table.Stats()
	if stats.HitRate != 0 {
		t.Errorf("expected hit rate 0 with no lookups, got %f", stats.HitRate)
	}
}

func TestResetStats(t *testing.T) {
	table := newTestTable()
	table.GetDescription("A00")
	table.ResetStats()

	stats := table.Stats()
	if stats.Lookups != 0 || stats.Hits != 0 {
		t.Errorf("expected zeroed counters, got %+v", stats)
	}
	if stats.TotalCodes != 4 {
		t.Errorf("expected code content unaffected, got %d codes", stats.TotalCodes)
	}
}

func TestTable_ConcurrentLookups(t *testing.T) {
	table := newTestTable()

	const goroutines = 8
	const perGoroutine = 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				table.GetDescription("A00")
				table.GetDescription("missing")
			}
		}()
	}
	wg.Wait()

	stats := table.Stats()
	if want := uint64(goroutines * perGoroutine * 2); stats.Lookups != want {
		t.Errorf("expected %d lookups, got %d", want, stats.Lookups)
	}
	if want := uint64(goroutines * perGoroutine); stats.Hits != want {
		t.Errorf("expected %d hits, got %d", want, stats.Hits)
	}
}

// =========== Accessors ===========

func TestEntries_InsertionOrder(t *testing.T) {
	table := newTestTable()
	entries := table.Entries()
	want := []string{"A00", "A000", "J44.9", "E11"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, w := range want {
		if entries[i].Code != w {
			t.Errorf("entry %d: expected %s, got %s", i, w, entries[i].Code)
		}
	}
}

func TestTokens_Copy(t *testing.T) {
	table := NewTable("t", TableConfig{Tokens: []string{"CCI"}}, nil)
	toks := table.Tokens()
	toks[0] = "mutated"
	if table.Tokens()[0] != "CCI" {
		t.Error("expected Tokens to return a copy")
	}
}

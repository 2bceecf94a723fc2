package enrichment

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
)

// =========== Stream ===========

func TestEnricher_Stream(t *testing.T) {
	e := newRegistryEnricher(t)

	in := strings.NewReader("code,subject_id\nA00,1001\nJ44.9,1002\nZZZ,1003\n")
	var out strings.Builder

	res, err := e.Stream(context.Background(), in, &out, StreamConfig{CodeColumn: "code"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Processed != 3 || res.Resolved != 2 || res.Defaulted != 1 {
		t.Errorf("result = %+v, want processed 3, resolved 2, defaulted 1", res)
	}

	rows, err := csv.NewReader(strings.NewReader(out.String())).ReadAll()
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("output rows = %d, want 4", len(rows))
	}
	if got := rows[0][2]; got != "description" {
		t.Errorf("header description column = %q", got)
	}
	if got := rows[1][2]; got != "Cholera" {
		t.Errorf("row 1 description = %q, want %q", got, "Cholera")
	}
	// J44.9 resolves through the hierarchy to J44.
	if got := rows[2][2]; got != "Other chronic obstructive pulmonary disease" {
		t.Errorf("row 2 description = %q", got)
	}
	if got := rows[3][2]; got != "No description" {
		t.Errorf("row 3 description = %q, want the default", got)
	}
	// Row order and source fields survive.
	if rows[2][0] != "J44.9" || rows[2][1] != "1002" {
		t.Errorf("row 2 = %v, want source fields preserved", rows[2])
	}
}

func TestEnricher_Stream_QuotedFields(t *testing.T) {
	e := newRegistryEnricher(t)

	in := strings.NewReader("code,note\nA00,\"fever, dehydration\"\n")
	var out strings.Builder

	if _, err := e.Stream(context.Background(), in, &out, StreamConfig{CodeColumn: "code"}); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(out.String())).ReadAll()
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if got := rows[1][1]; got != "fever, dehydration" {
		t.Errorf("quoted field = %q, want comma preserved", got)
	}
}

func TestEnricher_Stream_CustomDelimiter(t *testing.T) {
	e := newRegistryEnricher(t)

	in := strings.NewReader("code|subject_id\nA00|1001\n")
	var out strings.Builder

	res, err := e.Stream(context.Background(), in, &out, StreamConfig{
		CodeColumn: "code",
		Delimiter:  "|",
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Resolved != 1 {
		t.Errorf("Resolved = %d, want 1", res.Resolved)
	}
	if !strings.Contains(out.String(), "A00|1001|Cholera") {
		t.Errorf("output = %q, want pipe-delimited row", out.String())
	}
}

func TestEnricher_Stream_HeaderCaseInsensitive(t *testing.T) {
	e := newRegistryEnricher(t)

	in := strings.NewReader("Subject,ICD_Code\n1001,A00\n")
	var out strings.Builder

	res, err := e.Stream(context.Background(), in, &out, StreamConfig{CodeColumn: "icd_code"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Resolved != 1 {
		t.Errorf("Resolved = %d, want 1", res.Resolved)
	}
}

func TestEnricher_Stream_ShortRow(t *testing.T) {
	e := newRegistryEnricher(t)

	in := strings.NewReader("subject_id,code\n1001,A00\n1002\n")
	var out strings.Builder

	res, err := e.Stream(context.Background(), in, &out, StreamConfig{CodeColumn: "code"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Defaulted != 1 {
		t.Errorf("Defaulted = %d, want 1 for the short row", res.Defaulted)
	}

	cr := csv.NewReader(strings.NewReader(out.String()))
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	// Short row passes through with the default appended.
	if got := rows[2]; len(got) != 2 || got[1] != "No description" {
		t.Errorf("short row = %v", got)
	}
}

func TestEnricher_Stream_CustomDescriptionColumn(t *testing.T) {
	e := newRegistryEnricher(t)

	in := strings.NewReader("code\nA00\n")
	var out strings.Builder

	_, err := e.Stream(context.Background(), in, &out, StreamConfig{
		CodeColumn:        "code",
		DescriptionColumn: "long_title",
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "code,long_title\n") {
		t.Errorf("output header = %q", strings.SplitN(out.String(), "\n", 2)[0])
	}
}

func TestEnricher_Stream_Errors(t *testing.T) {
	e := newRegistryEnricher(t)

	tests := []struct {
		name  string
		input string
		cfg   StreamConfig
	}{
		{"missing code column config", "code\nA00\n", StreamConfig{}},
		{"multi-char delimiter", "code\nA00\n", StreamConfig{CodeColumn: "code", Delimiter: "::"}},
		{"empty input", "", StreamConfig{CodeColumn: "code"}},
		{"column not in header", "foo,bar\nx,y\n", StreamConfig{CodeColumn: "code"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			if _, err := e.Stream(context.Background(), strings.NewReader(tt.input), &out, tt.cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestEnricher_Stream_Cancelled(t *testing.T) {
	e := newRegistryEnricher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sb strings.Builder
	sb.WriteString("code\n")
	for i := 0; i < 200; i++ {
		sb.WriteString("A00\n")
	}
	var out strings.Builder

	_, err := e.Stream(ctx, strings.NewReader(sb.String()), &out, StreamConfig{CodeColumn: "code", Workers: 2})
	if err == nil {
		t.Fatal("expected a context error")
	}
	if out.Len() != 0 {
		t.Errorf("expected no output after cancellation, got %q", out.String())
	}
}

func TestEnricher_Stream_UpdatesTotals(t *testing.T) {
	e := newRegistryEnricher(t)

	in := strings.NewReader("code\nA00\nZZZ\n")
	var out strings.Builder
	if _, err := e.Stream(context.Background(), in, &out, StreamConfig{CodeColumn: "code"}); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	totals := e.Totals()
	if totals.Processed != 2 || totals.Resolved != 1 || totals.Defaulted != 1 {
		t.Errorf("Totals = %+v, want processed 2, resolved 1, defaulted 1", totals)
	}
}

// Package mapping implements the code resolution engine: mapping tables that
// translate clinical codes (ICD-10-CA, CCI, ICD-9/10) into human-readable
// descriptions, a registry that routes composite code strings to the right
// table, and the sources that load tables from files or Postgres.
package mapping

import "strings"

// Delimiter separates the segments of a composite code string,
// e.g. "MEDS//ICD10CA//2018//M1000".
const Delimiter = "//"

// CompositeCode is the parsed form of a raw code string. Code holds the final
// segment (the bare code); Tokens holds every preceding segment in order.
// A plain code has no tokens.
type CompositeCode struct {
	Code   string   `json:"code"`
	Tokens []string `json:"tokens,omitempty"`
}

// Normalize parses a raw code string into its composite parts. The last
// "//"-separated segment becomes the code and all preceding segments become
// tokens. Every segment is whitespace-trimmed. Inputs without the delimiter
// yield the trimmed input as the code and no tokens. Empty or blank input
// yields an empty code; Normalize never fails.
func Normalize(raw string) CompositeCode {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CompositeCode{}
	}
	if !strings.Contains(raw, Delimiter) {
		return CompositeCode{Code: raw}
	}

	parts := strings.Split(raw, Delimiter)
	tokens := make([]string, 0, len(parts)-1)
	for _, p := range parts[:len(parts)-1] {
		tokens = append(tokens, strings.TrimSpace(p))
	}
	return CompositeCode{
		Code:   strings.TrimSpace(parts[len(parts)-1]),
		Tokens: tokens,
	}
}

// IsComposite reports whether raw contains the composite delimiter.
func IsComposite(raw string) bool {
	return strings.Contains(raw, Delimiter)
}

// PlainCode strips any composite prefix and returns the bare code segment.
func PlainCode(raw string) string {
	return Normalize(raw).Code
}

// RouteKey builds the table name used for prefix/version pair routing:
// the lowercased prefix joined to the version with an underscore, so
// ("DIAGNOSIS", "10") routes to "diagnosis_10". Used by registries whose
// tables are named by source family and code version, such as the MIMIC
// diagnosis and procedure tables.
func RouteKey(prefix, version string) string {
	return strings.ToLower(strings.TrimSpace(prefix)) + "_" + strings.TrimSpace(version)
}

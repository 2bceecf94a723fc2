package mapping

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Canonical mapper names and code type labels.
const (
	MapperICD10CA = "icd10ca"
	MapperCCI     = "cci"

	CodeTypeDiagnosis = "diagnosis"
	CodeTypeProcedure = "procedure"
)

// MIMIC dictionary file names as shipped in the hosp module.
const (
	mimicDiagnosisFile = "d_icd_diagnoses.csv.gz"
	mimicProcedureFile = "d_icd_procedures.csv.gz"
)

var (
	// ICD10CATokens are the composite aliases that route to the ICD-10-CA
	// table. Matching is case-insensitive.
	ICD10CATokens = []string{"ICD10CA", "ICD-10-CA", "ICD10-CA", "ICD_10_CA"}
	// CCITokens are the composite aliases that route to the CCI table.
	CCITokens = []string{"CCI"}
)

// SourceSpec ties a mapper name to the source it loads from and the table
// configuration. A slice of specs fully describes a registry build.
type SourceSpec struct {
	Name   string
	Source Source
	Config TableConfig
}

// BuildRegistry loads every spec in order, registers the resulting tables
// and logs the per-table load accounting. A source error, a source yielding
// zero loadable entries or a duplicate name fails the whole build.
func BuildRegistry(ctx context.Context, logger zerolog.Logger, specs []SourceSpec) (*Registry, error) {
	reg := NewRegistry()
	for _, spec := range specs {
		t, res, err := NewTableFromSource(ctx, spec.Name, spec.Config, spec.Source)
		if err != nil {
			return nil, fmt.Errorf("build mapper %q: %w", spec.Name, err)
		}
		if t.Size() == 0 {
			return nil, fmt.Errorf("build mapper %q: source yielded no loadable entries", spec.Name)
		}
		if err := reg.Register(spec.Name, t); err != nil {
			return nil, err
		}
		logger.Info().
			Str("mapper", spec.Name).
			Int("codes", t.Size()).
			Int("rows", res.Rows).
			Int("skipped", res.Skipped).
			Int("filtered", res.Filtered).
			Msg("mapper loaded")
	}
	return reg, nil
}

// CanadianSpecs describes the two canonical Canadian tables: ICD-10-CA
// diagnoses and CCI interventions, loaded from delimited files with the
// code and description in the first two columns.
func CanadianSpecs(icd10caPath, cciPath, delimiter string) []SourceSpec {
	return []SourceSpec{
		{
			Name: MapperICD10CA,
			Source: FileSource{
				Path:              icd10caPath,
				Delimiter:         delimiter,
				DescriptionColumn: 1,
				Header:            true,
			},
			Config: TableConfig{CodeType: CodeTypeDiagnosis, Tokens: ICD10CATokens},
		},
		{
			Name: MapperCCI,
			Source: FileSource{
				Path:              cciPath,
				Delimiter:         delimiter,
				DescriptionColumn: 1,
				Header:            true,
			},
			Config: TableConfig{CodeType: CodeTypeProcedure, Tokens: CCITokens},
		},
	}
}

// NewCanadianRegistry builds a registry holding the canonical Canadian
// tables. Composite strings such as "MEDS//ICD10CA//2018//J44.9" auto-route
// to them via the token aliases.
func NewCanadianRegistry(ctx context.Context, logger zerolog.Logger, icd10caPath, cciPath, delimiter string) (*Registry, error) {
	return BuildRegistry(ctx, logger, CanadianSpecs(icd10caPath, cciPath, delimiter))
}

// MIMICSpecs describes the four MIMIC-style dictionary tables built from a
// data directory holding the combined diagnosis and procedure dictionaries.
// Each dictionary carries icd_code, icd_version and long_title columns and
// is split by version at load, producing the tables diagnosis_9,
// diagnosis_10, procedure_9 and procedure_10. These tables have no token
// aliases; composites like "DIAGNOSIS//ICD//10//A000" reach them through
// the prefix/version pair routing in the registry.
func MIMICSpecs(dataDir string) []SourceSpec {
	families := []struct {
		prefix string
		file   string
	}{
		{CodeTypeDiagnosis, mimicDiagnosisFile},
		{CodeTypeProcedure, mimicProcedureFile},
	}

	specs := make([]SourceSpec, 0, 4)
	for _, fam := range families {
		for _, version := range []string{"9", "10"} {
			specs = append(specs, SourceSpec{
				Name: RouteKey(fam.prefix, version),
				Source: FileSource{
					Path:              filepath.Join(dataDir, fam.file),
					CodeColumn:        0,
					DescriptionColumn: 2,
					Header:            true,
					FilterColumn:      1,
					FilterValue:       version,
				},
				Config: TableConfig{CodeType: fam.prefix},
			})
		}
	}
	return specs
}

// NewMIMICRegistry builds a registry holding the four MIMIC dictionary
// tables from dataDir.
func NewMIMICRegistry(ctx context.Context, logger zerolog.Logger, dataDir string) (*Registry, error) {
	return BuildRegistry(ctx, logger, MIMICSpecs(dataDir))
}

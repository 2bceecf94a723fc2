package mapping

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultDescription is substituted on a miss when the caller supplies no
// default of their own.
const DefaultDescription = "Unknown"

const defaultSearchLimit = 20

// MapperSummary is the list-view projection of a registered table.
type MapperSummary struct {
	Name       string   `json:"name"`
	CodeType   string   `json:"code_type,omitempty"`
	TotalCodes int      `json:"total_codes"`
	Tokens     []string `json:"tokens,omitempty"`
}

// MapperInfo is the detail view: table metadata plus a stats snapshot.
type MapperInfo struct {
	Name     string        `json:"name"`
	CodeType string        `json:"code_type,omitempty"`
	Tokens   []string      `json:"tokens,omitempty"`
	Floor    int           `json:"fallback_floor"`
	Stats    StatsSnapshot `json:"stats"`
}

// LookupResult reports one resolution. Code is the normalized bare code
// that was looked up; Mapper names the table that served it, empty when
// nothing matched.
type LookupResult struct {
	Mapper      string `json:"mapper,omitempty"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Found       bool   `json:"found"`
}

// BatchRequest is a batch lookup against one named mapper. A nil Default
// selects DefaultDescription; AutoRoute lets composite elements route away
// from the named mapper individually.
type BatchRequest struct {
	Codes     []string `json:"codes"`
	Default   *string  `json:"default"`
	AutoRoute bool     `json:"auto_route"`
}

// ResolveRequest resolves one possibly-composite code with auto-routing.
// An empty Mapper falls back to the service's default mapper.
type ResolveRequest struct {
	Mapper  string  `json:"mapper"`
	Code    string  `json:"code"`
	Default *string `json:"default"`
}

// Service exposes registry operations to the HTTP and CLI surfaces. It
// validates inputs and applies the configured defaults; resolution
// semantics live in Registry and Table.
type Service struct {
	registry      *Registry
	defaultMapper string
	maxSearch     int
}

// NewService wraps a registry. defaultMapper serves resolve requests that
// name no mapper; maxSearchResults caps search result sets (non-positive
// selects 100).
func NewService(registry *Registry, defaultMapper string, maxSearchResults int) *Service {
	if maxSearchResults <= 0 {
		maxSearchResults = 100
	}
	return &Service{
		registry:      registry,
		defaultMapper: defaultMapper,
		maxSearch:     maxSearchResults,
	}
}

// Registry exposes the underlying registry for wiring, e.g. the enricher.
func (s *Service) Registry() *Registry { return s.registry }

// DefaultMapper returns the configured fallback mapper name.
func (s *Service) DefaultMapper() string { return s.defaultMapper }

// ListMappers summarizes every registered table in registration order.
func (s *Service) ListMappers() []MapperSummary {
	names := s.registry.ListMappers()
	out := make([]MapperSummary, 0, len(names))
	for _, name := range names {
		t, err := s.registry.GetMapper(name)
		if err != nil {
			continue // removed since listing
		}
		out = append(out, MapperSummary{
			Name:       name,
			CodeType:   t.CodeType(),
			TotalCodes: t.Size(),
			Tokens:     t.Tokens(),
		})
	}
	return out
}

// GetMapperInfo returns metadata and stats for one mapper.
func (s *Service) GetMapperInfo(name string) (*MapperInfo, error) {
	t, err := s.registry.GetMapper(name)
	if err != nil {
		return nil, err
	}
	return &MapperInfo{
		Name:     t.Name(),
		CodeType: t.CodeType(),
		Tokens:   t.Tokens(),
		Floor:    t.Floor(),
		Stats:    t.Stats(),
	}, nil
}

// Lookup resolves raw against the named mapper, exact match plus
// hierarchical fallback. The mapper must be registered; a data miss yields
// def, or DefaultDescription when def is nil.
func (s *Service) Lookup(name, raw string, def *string) (*LookupResult, error) {
	t, err := s.registry.GetMapper(name)
	if err != nil {
		return nil, err
	}
	desc, found := t.GetDescription(raw)
	if !found {
		desc = defaultOr(def)
	}
	return &LookupResult{
		Mapper:      t.Name(),
		Code:        normalizeCode(PlainCode(raw)),
		Description: desc,
		Found:       found,
	}, nil
}

// Search runs a substring search over the named mapper. The query is
// required; limit defaults to 20 and is capped at the configured maximum.
func (s *Service) Search(name, query string, limit int) ([]CodeEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search query is required")
	}
	t, err := s.registry.GetMapper(name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > s.maxSearch {
		limit = s.maxSearch
	}
	return t.Search(query, limit), nil
}

// Codes pages through the named mapper's codes in insertion order and
// reports the total count.
func (s *Service) Codes(name string, limit, offset int) ([]string, int, error) {
	t, err := s.registry.GetMapper(name)
	if err != nil {
		return nil, 0, err
	}
	codes := t.Codes()
	total := len(codes)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []string{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return codes[offset:end], total, nil
}

// BatchLookup resolves req.Codes against the named mapper, preserving
// order and substituting the default per miss. With AutoRoute set,
// composite elements may dispatch to other registered tables.
func (s *Service) BatchLookup(name string, req BatchRequest) ([]string, error) {
	if len(req.Codes) == 0 {
		return nil, errors.New("codes are required")
	}
	if _, err := s.registry.GetMapper(name); err != nil {
		return nil, err
	}
	opts := LookupOptions{
		AutoRoute: req.AutoRoute,
		Default:   defaultOr(req.Default),
	}
	return s.registry.GetDescriptions(name, req.Codes, opts), nil
}

// Resolve performs the full composite resolution: tokens auto-route to a
// registered table, the named or default mapper serves unrouted codes, and
// misses of any kind yield the default. Resolve never fails.
func (s *Service) Resolve(req ResolveRequest) *LookupResult {
	mapper := req.Mapper
	if mapper == "" {
		mapper = s.defaultMapper
	}
	opts := LookupOptions{AutoRoute: true, Default: defaultOr(req.Default)}
	desc, found := s.registry.Lookup(mapper, req.Code, opts)
	served, _ := s.registry.ResolveMapper(mapper, req.Code, true)
	return &LookupResult{
		Mapper:      served,
		Code:        normalizeCode(PlainCode(req.Code)),
		Description: desc,
		Found:       found,
	}
}

// Stats snapshots the lookup counters of every registered mapper.
func (s *Service) Stats() map[string]StatsSnapshot {
	return s.registry.AllStats()
}

// ResetStats zeroes all lookup counters.
func (s *Service) ResetStats() {
	s.registry.ResetAllStats()
}

// RemoveMapper unregisters the named table.
func (s *Service) RemoveMapper(name string) error {
	if !s.registry.RemoveMapper(name) {
		return fmt.Errorf("mapper %q not registered: %w", name, ErrMapperNotFound)
	}
	return nil
}

// ExportMapper writes the named table to w as CSV.
func (s *Service) ExportMapper(name string, w io.Writer) error {
	t, err := s.registry.GetMapper(name)
	if err != nil {
		return err
	}
	return ExportCSV(w, t)
}

func defaultOr(p *string) string {
	if p == nil {
		return DefaultDescription
	}
	return *p
}

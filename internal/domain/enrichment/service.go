package enrichment

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/codemap/codemap/internal/domain/mapping"
)

// Resolver resolves raw code strings to descriptions. *mapping.Registry
// satisfies it.
type Resolver interface {
	Lookup(mapper, raw string, opts mapping.LookupOptions) (string, bool)
}

// Totals reports cumulative enrichment counters.
type Totals struct {
	Processed uint64 `json:"processed"`
	Resolved  uint64 `json:"resolved"`
	Defaulted uint64 `json:"defaulted"`
}

// Enricher fills event records with code descriptions. Lookups auto-route
// on composite tokens, falling back to the configured default mapper, and
// misses carry the default description so the event stream never stalls on
// an unknown code. Enrichers are safe for concurrent use.
type Enricher struct {
	resolver      Resolver
	defaultMapper string
	defaultDesc   string

	processed atomic.Uint64
	resolved  atomic.Uint64
	defaulted atomic.Uint64
}

// NewEnricher builds an enricher over resolver. defaultMapper serves codes
// whose tokens route nowhere; an empty defaultDescription selects
// mapping.DefaultDescription.
func NewEnricher(resolver Resolver, defaultMapper, defaultDescription string) *Enricher {
	if defaultDescription == "" {
		defaultDescription = mapping.DefaultDescription
	}
	return &Enricher{
		resolver:      resolver,
		defaultMapper: defaultMapper,
		defaultDesc:   defaultDescription,
	}
}

// Enrich resolves the record's code in place. A record arriving without a
// provenance ID is stamped with a fresh one.
func (e *Enricher) Enrich(rec *EventRecord) {
	desc, _ := e.resolve(rec.Code)
	rec.Description = desc
	if rec.ProvenanceID == "" {
		rec.ProvenanceID = uuid.NewString()
	}
}

// EnrichAll enriches records in place, sequentially.
func (e *Enricher) EnrichAll(recs []EventRecord) {
	for i := range recs {
		e.Enrich(&recs[i])
	}
}

// EnrichConcurrent enriches records in place on a fixed worker pool.
// Workers receive disjoint indexes, so record order and identity are
// unchanged. Cancelling ctx stops feeding the pool; records already
// dispatched still finish.
func (e *Enricher) EnrichConcurrent(ctx context.Context, recs []EventRecord, workers int) error {
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
				e.Enrich(&recs[idx])
			}
		}()
	}

	var err error
feed:
	for i := range recs {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return err
}

// Totals returns the cumulative counters across all enrichment calls.
func (e *Enricher) Totals() Totals {
	return Totals{
		Processed: e.processed.Load(),
		Resolved:  e.resolved.Load(),
		Defaulted: e.defaulted.Load(),
	}
}

// ResetTotals zeroes the cumulative counters.
func (e *Enricher) ResetTotals() {
	e.processed.Store(0)
	e.resolved.Store(0)
	e.defaulted.Store(0)
}

// resolve is the counted lookup shared by record and stream enrichment.
func (e *Enricher) resolve(raw string) (string, bool) {
	desc, found := e.resolver.Lookup(e.defaultMapper, raw, mapping.LookupOptions{
		AutoRoute: true,
		Default:   e.defaultDesc,
	})
	e.processed.Add(1)
	if found {
		e.resolved.Add(1)
	} else {
		e.defaulted.Add(1)
	}
	return desc, found
}

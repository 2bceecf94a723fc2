package mapping

import "sync/atomic"

// lookupCounters tracks per-table lookup traffic. Counters are atomic so
// tables can serve concurrent lookups without a lock on the hot path.
type lookupCounters struct {
	lookups atomic.Uint64
	hits    atomic.Uint64
}

func (c *lookupCounters) recordLookup() {
	c.lookups.Add(1)
}

func (c *lookupCounters) recordHit() {
	c.hits.Add(1)
}

func (c *lookupCounters) reset() {
	c.lookups.Store(0)
	c.hits.Store(0)
}

// StatsSnapshot is a point-in-time view of a table's lookup counters.
type StatsSnapshot struct {
	TotalCodes int     `json:"total_codes"`
	Lookups    uint64  `json:"lookups"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// snapshot captures the current counter values. HitRate is zero when no
// lookups have been recorded yet.
func (c *lookupCounters) snapshot(totalCodes int) StatsSnapshot {
	lookups := c.lookups.Load()
	hits := c.hits.Load()
	s := StatsSnapshot{
		TotalCodes: totalCodes,
		Lookups:    lookups,
		Hits:       hits,
	}
	if hits <= lookups {
		s.Misses = lookups - hits
	}
	if lookups > 0 {
		s.HitRate = float64(hits) / float64(lookups)
	}
	return s
}

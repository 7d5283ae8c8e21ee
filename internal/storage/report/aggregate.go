package report

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// Aggregate maintains running statistics over flow records.
// It supports optional percentile calculation using DDSketch.
type Aggregate struct {
	mu sync.Mutex

	tier        types.Tier
	bucketStart uint32
	bucketEnd   uint32

	// Running statistics
	count   int64
	zeros   int64
	sum     int64
	min     int32
	max     int32
	firstTs uint32
	lastTs  uint32

	// DDSketch for percentiles (nil if disabled)
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// NewAggregate creates an aggregate for records of tier falling in
// [bucketStart, bucketEnd). A zero bucketEnd means unbounded.
// accuracy <= 0 disables percentiles.
func NewAggregate(tier types.Tier, bucketStart, bucketEnd uint32, accuracy float64) *Aggregate {
	a := &Aggregate{
		tier:        tier,
		bucketStart: bucketStart,
		bucketEnd:   bucketEnd,
		min:         math.MaxInt32,
		max:         math.MinInt32,
		accuracy:    accuracy,
	}

	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			a.sketch = sketch
		}
	}

	return a
}

// Add adds a record to the aggregate.
func (a *Aggregate) Add(r types.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += int64(r.Value)
	if r.Value == 0 {
		a.zeros++
	}

	if r.Value < a.min {
		a.min = r.Value
	}
	if r.Value > a.max {
		a.max = r.Value
	}

	if a.count == 1 || r.Timestamp < a.firstTs {
		a.firstTs = r.Timestamp
	}
	if r.Timestamp > a.lastTs {
		a.lastTs = r.Timestamp
	}

	if a.sketch != nil {
		a.sketch.Add(float64(r.Value))
	}
}

// Count returns the number of records added.
func (a *Aggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Contains reports whether ts falls in the aggregate's bucket.
func (a *Aggregate) Contains(ts uint32) bool {
	return ts >= a.bucketStart && (a.bucketEnd == 0 || ts < a.bucketEnd)
}

// Summary returns the statistics gathered so far.
func (a *Aggregate) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Tier:        a.tier,
		BucketStart: a.bucketStart,
		BucketEnd:   a.bucketEnd,
		Count:       a.count,
		Zeros:       a.zeros,
		Sum:         a.sum,
		FirstTs:     a.firstTs,
		LastTs:      a.lastTs,
	}

	if a.count > 0 {
		s.Mean = float64(a.sum) / float64(a.count)
		s.Min = a.min
		s.Max = a.max
	}

	// Calculate percentiles if enabled and we have data
	if a.sketch != nil && a.count > 0 {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		s.SetPercentiles(p50, p90, p99)
	}

	return s
}

// Merge combines another aggregate into this one.
func (a *Aggregate) Merge(other *Aggregate) {
	if other == nil || other == a {
		return
	}

	a.mu.Lock()
	other.mu.Lock()
	defer a.mu.Unlock()
	defer other.mu.Unlock()

	if other.count == 0 {
		return
	}

	if a.count == 0 || other.firstTs < a.firstTs {
		a.firstTs = other.firstTs
	}
	if other.lastTs > a.lastTs {
		a.lastTs = other.lastTs
	}

	a.count += other.count
	a.zeros += other.zeros
	a.sum += other.sum

	if other.min < a.min {
		a.min = other.min
	}
	if other.max > a.max {
		a.max = other.max
	}

	// Merge sketches
	if a.sketch != nil && other.sketch != nil {
		a.sketch.MergeWith(other.sketch)
	}
}

// Summary holds flow statistics for a tier or a bucket of one.
type Summary struct {
	Tier        types.Tier
	BucketStart uint32 // zero for a whole-tier summary
	BucketEnd   uint32

	Count int64
	Zeros int64 // records with no flow, including gap fill
	Sum   int64
	Min   int32
	Max   int32
	Mean  float64

	FirstTs uint32
	LastTs  uint32

	P50 *float64
	P90 *float64
	P99 *float64
}

// SetPercentiles sets the percentile values.
func (s *Summary) SetPercentiles(p50, p90, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P99 = &p99
}

// HasPercentiles returns true if percentiles were computed.
func (s *Summary) HasPercentiles() bool {
	return s.P50 != nil
}

// First returns the timestamp of the oldest record as UTC time.
func (s *Summary) First() time.Time {
	return time.Unix(int64(s.FirstTs), 0).UTC()
}

// Last returns the timestamp of the newest record as UTC time.
func (s *Summary) Last() time.Time {
	return time.Unix(int64(s.LastTs), 0).UTC()
}

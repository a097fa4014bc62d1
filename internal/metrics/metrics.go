package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID indexes a counter.
type MetricID uint16

const (
	AuthAnonymous MetricID = iota
	AccessValid
	AccessRejected
	AccessRenewed
	RefreshRejected
	LoginSuccess
	LoginDeclined
	Logout
	LogoutEverywhere
	LogoutOthers
	CookiesCleared
	StorageFault
	RecorderFailure
	GuardRejected
	AuditDropped
	AuthenticateLatency
	idCount
)

// Count is the number of metric ids.
const Count = int(idCount)

const (
	BucketCount   = 8
	cacheLineSize = 64
)

// BucketBounds are the inclusive upper bounds of the histogram buckets; the
// last bucket is unbounded.
var BucketBounds = [BucketCount - 1]time.Duration{
	500 * time.Microsecond,
	time.Millisecond,
	2500 * time.Microsecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles collection.
type Config struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	enabled  bool
	latency  bool
	counters [idCount]paddedCounter
	buckets  [BucketCount]paddedCounter
}

// Snapshot is a point-in-time copy.
type Snapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the AuthenticateLatency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != AuthenticateLatency {
		return
	}
	atomic.AddUint64(&m.buckets[bucketIndex(d)].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < idCount; id++ {
		if id == AuthenticateLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.latency {
		buckets := make([]uint64, BucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.buckets[i].value)
		}
		s.Histograms[AuthenticateLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range BucketBounds {
		if d <= bound {
			return i
		}
	}
	return BucketCount - 1
}

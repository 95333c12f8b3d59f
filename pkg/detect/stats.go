package detect

import (
	"sync"
	"sync/atomic"
	"time"
)

// atomicScanner holds the current scanner behind an atomic pointer so
// wordlist reloads can swap it without blocking in-flight detections.
type atomicScanner struct {
	p atomic.Pointer[Scanner]
}

func (a *atomicScanner) store(s *Scanner) { a.p.Store(s) }
func (a *atomicScanner) load() *Scanner   { return a.p.Load() }

// ewmaAlpha is the smoothing factor for the per-branch latency averages.
const ewmaAlpha = 0.2

// stats accumulates ensemble counters. A single mutex covers everything;
// contention is negligible next to inference cost.
type stats struct {
	mu sync.Mutex

	total      uint64
	abusive    uint64
	regexCalls uint64
	mlCalls    uint64

	agreements    uint64
	disagreements uint64

	regexEWMA time.Duration
	mlEWMA    time.Duration
}

// StatsSnapshot is a point-in-time copy of the ensemble counters.
type StatsSnapshot struct {
	Total   uint64
	Abusive uint64

	RegexCalls uint64
	MLCalls    uint64

	// Agreements and Disagreements count detections where both branches ran.
	Agreements    uint64
	Disagreements uint64

	// RegexAvg and MLAvg are exponentially weighted moving averages of the
	// per-branch latencies.
	RegexAvg time.Duration
	MLAvg    time.Duration
}

// AgreementRate is agreements over both-branch detections, or 0 when neither
// has happened yet.
func (s StatsSnapshot) AgreementRate() float64 {
	n := s.Agreements + s.Disagreements
	if n == 0 {
		return 0
	}
	return float64(s.Agreements) / float64(n)
}

func (s *stats) record(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if res.Abusive {
		s.abusive++
	}
}

func (s *stats) recordRegex(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regexCalls++
	s.regexEWMA = ewma(s.regexEWMA, elapsed, s.regexCalls)
}

func (s *stats) recordML(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mlCalls++
	s.mlEWMA = ewma(s.mlEWMA, elapsed, s.mlCalls)
}

func (s *stats) recordAgreement() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agreements++
}

func (s *stats) recordDisagreement() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disagreements++
}

func (s *stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Total:         s.total,
		Abusive:       s.abusive,
		RegexCalls:    s.regexCalls,
		MLCalls:       s.mlCalls,
		Agreements:    s.agreements,
		Disagreements: s.disagreements,
		RegexAvg:      s.regexEWMA,
		MLAvg:         s.mlEWMA,
	}
}

// ewma folds elapsed into the running average. The first sample seeds it.
func ewma(prev, elapsed time.Duration, count uint64) time.Duration {
	if count <= 1 {
		return elapsed
	}
	return time.Duration(float64(prev)*(1-ewmaAlpha) + float64(elapsed)*ewmaAlpha)
}

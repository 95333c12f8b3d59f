package detect

import (
	"context"
	"errors"
	"time"

	"github.com/KushagraSharma924/censorly/pkg/interval"
)

// Policy selects how the regex scanner and the ML classifier are combined
// for a single text.
type Policy string

const (
	// PolicyRegexOnly uses the scanner verdict alone.
	PolicyRegexOnly Policy = "regex_only"

	// PolicyMLOnly uses the classifier verdict alone. Jobs under this policy
	// fail with detector_unavailable when no model is loaded.
	PolicyMLOnly Policy = "ml_only"

	// PolicyFastFirst queries the scanner first and consults the classifier
	// only to confirm and refine a regex hit. The default.
	PolicyFastFirst Policy = "fast_first"

	// PolicyBoth always queries both branches; a text is abusive when either
	// branch flags it.
	PolicyBoth Policy = "both"
)

// IsValid reports whether p is a recognised ensemble policy.
func (p Policy) IsValid() bool {
	switch p {
	case PolicyRegexOnly, PolicyMLOnly, PolicyFastFirst, PolicyBoth:
		return true
	}
	return false
}

// ErrDetectorUnavailable is returned by Detect when the policy requires the
// ML branch but no model is loaded.
var ErrDetectorUnavailable = errors.New("detect: ml classifier unavailable")

// Result is the per-text ensemble verdict.
type Result struct {
	Abusive    bool
	Confidence float64

	// Method records which branch decided: regex, ml, or ensemble.
	Method interval.Method

	// RegexMatches holds the scanner hits when that branch was consulted.
	RegexMatches []Match

	// ML holds the classifier prediction when that branch was consulted.
	ML *Prediction

	Elapsed time.Duration
}

// disagreementPenalty scales the classifier confidence when the two branches
// disagree under fast_first.
const disagreementPenalty = 0.8

// singleFlagFactor scales the confidence under the both policy when only one
// branch flags the text.
const singleFlagFactor = 0.7

// Hybrid combines the regex scanner and the ML classifier under a policy.
// The scanner reference is swappable (wordlist reloads); everything else is
// immutable after construction. Safe for concurrent use.
type Hybrid struct {
	policy            Policy
	classifier        Classifier
	severityWeighting bool

	scanner atomicScanner
	stats   stats
}

// HybridOption configures a [Hybrid].
type HybridOption func(*Hybrid)

// WithSeverityWeighting scales regex-derived confidence by the highest
// matched severity divided by 10. Off by default so the documented ensemble
// arithmetic holds exactly.
func WithSeverityWeighting() HybridOption {
	return func(h *Hybrid) { h.severityWeighting = true }
}

// NewHybrid builds the ensemble detector. classifier may be the disabled
// degradation; policies other than ml_only then silently fall back to the
// regex branch.
func NewHybrid(scanner *Scanner, classifier Classifier, policy Policy, opts ...HybridOption) *Hybrid {
	if classifier == nil {
		classifier = NewDisabled("")
	}
	if !policy.IsValid() {
		policy = PolicyFastFirst
	}
	h := &Hybrid{
		policy:     policy,
		classifier: classifier,
	}
	h.scanner.store(scanner)
	for _, o := range opts {
		o(h)
	}
	return h
}

// Policy returns the configured ensemble policy.
func (h *Hybrid) Policy() Policy { return h.policy }

// SwapScanner atomically replaces the scanner. Called from the wordlist
// store's subscriber after a reload; in-flight detections keep the scanner
// they already loaded.
func (h *Hybrid) SwapScanner(s *Scanner) { h.scanner.store(s) }

// Scanner returns the regex scanner currently in use. Callers needing
// finer-grained matching than Detect (for example per-word checks) run it
// directly; the reference stays valid across SwapScanner.
func (h *Hybrid) Scanner() *Scanner { return h.scanner.load() }

// MLAvailable reports whether the ML branch has a loaded model.
func (h *Hybrid) MLAvailable() bool { return !Disabled(h.classifier) }

// Stats returns a snapshot of the running ensemble counters.
func (h *Hybrid) Stats() StatsSnapshot { return h.stats.snapshot() }

// Detect classifies one text under the configured policy. The only error
// condition is ml_only with no loaded model.
func (h *Hybrid) Detect(ctx context.Context, text string) (Result, error) {
	started := time.Now()
	res, err := h.detect(ctx, text)
	res.Elapsed = time.Since(started)
	if err == nil {
		h.stats.record(res)
	}
	return res, err
}

func (h *Hybrid) detect(ctx context.Context, text string) (Result, error) {
	switch h.policy {
	case PolicyRegexOnly:
		return h.detectRegexOnly(text), nil
	case PolicyMLOnly:
		return h.detectMLOnly(ctx, text)
	case PolicyBoth:
		return h.detectBoth(ctx, text), nil
	default:
		return h.detectFastFirst(ctx, text), nil
	}
}

func (h *Hybrid) detectRegexOnly(text string) Result {
	matches, elapsed := h.runRegex(text)
	h.stats.recordRegex(elapsed)
	if len(matches) == 0 {
		return Result{Method: interval.MethodRegex, RegexMatches: matches}
	}
	return Result{
		Abusive:      true,
		Confidence:   h.regexConfidence(matches),
		Method:       interval.MethodRegex,
		RegexMatches: matches,
	}
}

func (h *Hybrid) detectMLOnly(ctx context.Context, text string) (Result, error) {
	if Disabled(h.classifier) {
		return Result{}, ErrDetectorUnavailable
	}
	pred, elapsed := h.runML(ctx, text)
	h.stats.recordML(elapsed)
	return Result{
		Abusive:    pred.Abusive,
		Confidence: pred.Confidence,
		Method:     interval.MethodML,
		ML:         &pred,
	}, nil
}

// detectFastFirst short-circuits clean on no regex match; a regex hit is
// confirmed by the classifier when one is loaded.
func (h *Hybrid) detectFastFirst(ctx context.Context, text string) Result {
	matches, elapsed := h.runRegex(text)
	h.stats.recordRegex(elapsed)
	if len(matches) == 0 {
		return Result{Method: interval.MethodRegex, RegexMatches: matches}
	}

	regexConf := h.regexConfidence(matches)
	if Disabled(h.classifier) {
		return Result{
			Abusive:      true,
			Confidence:   regexConf,
			Method:       interval.MethodRegex,
			RegexMatches: matches,
		}
	}

	pred, mlElapsed := h.runML(ctx, text)
	h.stats.recordML(mlElapsed)
	if pred.Err != "" {
		// Per-text ML degradation: keep the regex verdict.
		return Result{
			Abusive:      true,
			Confidence:   regexConf,
			Method:       interval.MethodRegex,
			RegexMatches: matches,
			ML:           &pred,
		}
	}

	if pred.Abusive {
		h.stats.recordAgreement()
		return Result{
			Abusive:      true,
			Confidence:   (regexConf + pred.Confidence) / 2,
			Method:       interval.MethodEnsemble,
			RegexMatches: matches,
			ML:           &pred,
		}
	}

	// Disagreement: the classifier verdict wins, at a penalty.
	h.stats.recordDisagreement()
	return Result{
		Abusive:      false,
		Confidence:   pred.Confidence * disagreementPenalty,
		Method:       interval.MethodEnsemble,
		RegexMatches: matches,
		ML:           &pred,
	}
}

func (h *Hybrid) detectBoth(ctx context.Context, text string) Result {
	matches, regexElapsed := h.runRegex(text)
	h.stats.recordRegex(regexElapsed)
	regexFlag := len(matches) > 0
	regexConf := 0.0
	if regexFlag {
		regexConf = h.regexConfidence(matches)
	}

	if Disabled(h.classifier) {
		return Result{
			Abusive:      regexFlag,
			Confidence:   regexConf,
			Method:       interval.MethodRegex,
			RegexMatches: matches,
		}
	}

	pred, mlElapsed := h.runML(ctx, text)
	h.stats.recordML(mlElapsed)
	if pred.Err != "" {
		return Result{
			Abusive:      regexFlag,
			Confidence:   regexConf,
			Method:       interval.MethodRegex,
			RegexMatches: matches,
			ML:           &pred,
		}
	}

	res := Result{RegexMatches: matches, ML: &pred}
	switch {
	case regexFlag && pred.Abusive:
		h.stats.recordAgreement()
		res.Abusive = true
		res.Confidence = max(regexConf, pred.Confidence)
		res.Method = interval.MethodEnsemble
	case regexFlag:
		h.stats.recordDisagreement()
		res.Abusive = true
		res.Confidence = singleFlagFactor * max(regexConf, pred.Confidence)
		res.Method = interval.MethodRegex
	case pred.Abusive:
		h.stats.recordDisagreement()
		res.Abusive = true
		res.Confidence = singleFlagFactor * max(regexConf, pred.Confidence)
		res.Method = interval.MethodML
	default:
		h.stats.recordAgreement()
		res.Confidence = max(regexConf, pred.Confidence)
		res.Method = interval.MethodEnsemble
	}
	return res
}

// regexConfidence derives a confidence from match count:
// min(1, 0.5 + 0.5·count), optionally scaled by severity.
func (h *Hybrid) regexConfidence(matches []Match) float64 {
	conf := 0.5 + 0.5*float64(len(matches))
	if conf > 1 {
		conf = 1
	}
	if h.severityWeighting {
		conf *= float64(MaxSeverity(matches)) / 10.0
	}
	return conf
}

func (h *Hybrid) runRegex(text string) ([]Match, time.Duration) {
	started := time.Now()
	matches := h.scanner.load().FindAll(text)
	return matches, time.Since(started)
}

func (h *Hybrid) runML(ctx context.Context, text string) (Prediction, time.Duration) {
	started := time.Now()
	pred := h.classifier.Predict(ctx, text)
	return pred, time.Since(started)
}

package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/ai"
	"github.com/spigell/hh-pricer/internal/pricing"
)

const (
	defaultTopK                = 5
	defaultMinSimilarity       = 0.35
	defaultConfidentSimilarity = 0.75
	defaultAmbiguityMargin     = 0.05
	defaultVerifyTimeout       = 20 * time.Second
	defaultFallbackPenalty     = 0.8
)

// Verification outcomes reported to the Recorder.
const (
	OutcomeSkipped     = "skipped"
	OutcomeAccepted    = "accepted"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

// IndexSource hands out the current index. Implementations may swap the
// index between calls; a single match always uses one index.
type IndexSource interface {
	Index() *Index
}

type staticIndex struct{ idx *Index }

func (s staticIndex) Index() *Index { return s.idx }

// Static wraps a fixed index.
func Static(idx *Index) IndexSource { return staticIndex{idx: idx} }

// Recorder receives verification outcomes, e.g. for metrics.
type Recorder interface {
	ObserveVerification(outcome string)
}

type Config struct {
	TopK                int           `mapstructure:"top-k"`
	MinSimilarity       float64       `mapstructure:"min-similarity"`
	ConfidentSimilarity float64       `mapstructure:"confident-similarity"`
	AmbiguityMargin     float64       `mapstructure:"ambiguity-margin"`
	VerificationEnabled bool          `mapstructure:"verification-enabled"`
	VerifyTimeout       time.Duration `mapstructure:"verify-timeout"`
	// FallbackPenalty scales the similarity of the top candidate when the
	// verifier could not be reached.
	FallbackPenalty float64 `mapstructure:"fallback-penalty"`
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = defaultMinSimilarity
	}
	if c.ConfidentSimilarity <= 0 {
		c.ConfidentSimilarity = defaultConfidentSimilarity
	}
	if c.AmbiguityMargin <= 0 {
		c.AmbiguityMargin = defaultAmbiguityMargin
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = defaultVerifyTimeout
	}
	if c.FallbackPenalty <= 0 || c.FallbackPenalty > 1 {
		c.FallbackPenalty = defaultFallbackPenalty
	}
	return c
}

func (c Config) Validate() error {
	c = c.withDefaults()
	if c.MinSimilarity >= 1 {
		return errors.New("min-similarity must be below 1")
	}
	if c.ConfidentSimilarity < c.MinSimilarity {
		return errors.New("confident-similarity must not be below min-similarity")
	}
	return nil
}

type Deps struct {
	Embedder ai.Embedder
	Index    IndexSource
	// Verifier is optional; it is only used when verification is enabled.
	Verifier ai.Verifier
	Recorder Recorder
	Logger   *zap.Logger
}

// Matcher maps free-text job descriptions onto canonical roles.
type Matcher struct {
	cfg  Config
	deps Deps
}

func NewMatcher(cfg Config, deps Deps) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if deps.Index == nil {
		return nil, errors.New("index source is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Matcher{cfg: cfg.withDefaults(), deps: deps}, nil
}

// VerificationEnabled reports whether ambiguous matches go to the verifier.
func (m *Matcher) VerificationEnabled() bool {
	return m.cfg.VerificationEnabled && m.deps.Verifier != nil
}

// Outcome is a match together with how it was reached.
type Outcome struct {
	Matches      []pricing.RoleMatch
	IndexVersion string
	// Verification is VerdictSkipped unless the verifier was consulted.
	Verification pricing.Verdict
	// VerificationErr is set when the verifier failed and the top
	// embedding candidate was used instead.
	VerificationErr error
	// Rationale is the verifier's explanation, if any.
	Rationale string
}

// Match returns matching roles ordered by similarity, most similar first.
// An empty index or no candidate above the similarity floor yields an empty
// list. Embedding failures are returned as errors.
func (m *Matcher) Match(ctx context.Context, title, description string, topK int) ([]pricing.RoleMatch, error) {
	outcome, err := m.Resolve(ctx, title, description, topK)
	if err != nil {
		return nil, err
	}
	return outcome.Matches, nil
}

// Resolve is Match with details about the verification step.
func (m *Matcher) Resolve(ctx context.Context, title, description string, topK int) (*Outcome, error) {
	if topK <= 0 {
		topK = m.cfg.TopK
	}

	idx := m.deps.Index.Index()
	outcome := &Outcome{IndexVersion: idx.Version(), Verification: pricing.VerdictSkipped}

	text := pricing.Request{Title: title, Description: description}.Text()
	if text == "" {
		return nil, &pricing.ValidationError{Field: "title", Reason: "is required"}
	}

	if idx.Len() == 0 {
		m.deps.Logger.Warn("candidate index is empty")
		return outcome, nil
	}

	vector, err := m.deps.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}

	found, err := idx.Search(vector, topK)
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}

	candidates := make([]Candidate, 0, len(found))
	for _, c := range found {
		if c.Similarity >= m.cfg.MinSimilarity {
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		best := 0.0
		if len(found) > 0 {
			best = found[0].Similarity
		}
		m.deps.Logger.Info("no candidate above similarity floor",
			zap.Float64("best_similarity", best),
			zap.Float64("min_similarity", m.cfg.MinSimilarity),
		)
		return outcome, nil
	}

	if !m.VerificationEnabled() || !m.ambiguous(candidates) {
		outcome.Matches = toMatches(candidates, pricing.VerdictSkipped)
		m.observe(OutcomeSkipped)
		return outcome, nil
	}

	m.verify(ctx, text, candidates, outcome)
	return outcome, nil
}

func (m *Matcher) ambiguous(candidates []Candidate) bool {
	if candidates[0].Similarity < m.cfg.ConfidentSimilarity {
		return true
	}
	return len(candidates) > 1 && candidates[0].Similarity-candidates[1].Similarity < m.cfg.AmbiguityMargin
}

func (m *Matcher) verify(ctx context.Context, text string, candidates []Candidate, outcome *Outcome) {
	vctx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
	defer cancel()

	offered := make([]ai.Candidate, 0, len(candidates))
	for _, c := range candidates {
		offered = append(offered, ai.Candidate{
			ID:          c.Role.ID,
			Title:       c.Role.Title,
			Family:      c.Role.Family,
			Description: c.Role.Description,
			Similarity:  c.Similarity,
		})
	}

	verdict, err := m.deps.Verifier.ChooseBest(vctx, text, offered)
	if err == nil && verdict == nil {
		err = errors.New("verifier returned no verdict")
	}
	if err == nil && !verdict.None && !hasRole(candidates, verdict.ChosenID) {
		err = fmt.Errorf("verifier chose unknown role %q", verdict.ChosenID)
	}

	if err != nil {
		m.deps.Logger.Warn("verification failed, using top embedding candidate",
			zap.String("role_id", candidates[0].Role.ID),
			zap.Float64("similarity", candidates[0].Similarity),
			zap.Error(err),
		)
		top := toMatches(candidates[:1], pricing.VerdictUnavailable)
		top[0].Confidence = candidates[0].Similarity * m.cfg.FallbackPenalty
		top[0].Rationale = "verification unavailable"
		outcome.Matches = top
		outcome.Verification = pricing.VerdictUnavailable
		outcome.VerificationErr = err
		m.observe(OutcomeUnavailable)
		return
	}

	outcome.Rationale = verdict.Rationale

	if verdict.None {
		matches := toMatches(candidates, pricing.VerdictRejected)
		for i := range matches {
			matches[i].Rationale = verdict.Rationale
		}
		outcome.Matches = matches
		outcome.Verification = pricing.VerdictRejected
		m.deps.Logger.Info("verifier rejected all candidates", zap.String("rationale", verdict.Rationale))
		m.observe(OutcomeRejected)
		return
	}

	chosen := strings.TrimSpace(verdict.ChosenID)
	matches := toMatches(candidates, pricing.VerdictRejected)
	for i := range matches {
		if matches[i].RoleID != chosen {
			matches[i].Rationale = fmt.Sprintf("verifier preferred %s", chosen)
			continue
		}
		matches[i].Verdict = pricing.VerdictAccepted
		matches[i].Rationale = verdict.Rationale
		if verdict.Confidence > 0 {
			matches[i].Confidence = (matches[i].Similarity + verdict.Confidence) / 2
		}
	}

	outcome.Matches = matches
	outcome.Verification = pricing.VerdictAccepted
	m.deps.Logger.Info("verifier accepted candidate",
		zap.String("role_id", chosen),
		zap.Float64("verifier_confidence", verdict.Confidence),
	)
	m.observe(OutcomeAccepted)
}

func (m *Matcher) observe(outcome string) {
	if m.deps.Recorder != nil {
		m.deps.Recorder.ObserveVerification(outcome)
	}
}

func hasRole(candidates []Candidate, id string) bool {
	id = strings.TrimSpace(id)
	for _, c := range candidates {
		if c.Role.ID == id {
			return true
		}
	}
	return false
}

func toMatches(candidates []Candidate, verdict pricing.Verdict) []pricing.RoleMatch {
	matches := make([]pricing.RoleMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, pricing.RoleMatch{
			RoleID:     c.Role.ID,
			RoleTitle:  c.Role.Title,
			Family:     c.Role.Family,
			Similarity: c.Similarity,
			Confidence: c.Similarity,
			Verdict:    verdict,
		})
	}
	return matches
}

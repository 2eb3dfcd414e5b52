// Package engine composes matching, source fan-out, aggregation and scenario
// generation into a single blocking pricing call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/hh-pricer/internal/aggregate"
	"github.com/spigell/hh-pricer/internal/logger"
	"github.com/spigell/hh-pricer/internal/matching"
	"github.com/spigell/hh-pricer/internal/metrics"
	"github.com/spigell/hh-pricer/internal/pricing"
	"github.com/spigell/hh-pricer/internal/sources"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultSourceTimeout  = 5 * time.Second
	defaultMaxRoles       = 2

	statusInvalid = "invalid"
)

// Matcher resolves a request into role matches.
type Matcher interface {
	Resolve(ctx context.Context, title, description string, topK int) (*matching.Outcome, error)
}

type Aggregator interface {
	Aggregate(evidence []aggregate.Evidence, now time.Time) (*aggregate.Estimate, error)
}

type ScenarioGenerator interface {
	Scenarios(p pricing.Percentiles) ([]pricing.Band, error)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	ObserveRequest(status string, d time.Duration)
	ObserveStage(stage string, d time.Duration)
	ObserveSource(sourceID, outcome string)
	ObserveConfidence(v float64)
}

type Config struct {
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	// MaxRoles is how many accepted matches are queried for data.
	MaxRoles int `mapstructure:"max-roles"`
	// TopK overrides the matcher's candidate count when positive.
	TopK              int               `mapstructure:"top-k"`
	ReportingCurrency string            `mapstructure:"reporting-currency"`
	Fallback          aggregate.Fallback `mapstructure:"fallback"`
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxRoles <= 0 {
		c.MaxRoles = defaultMaxRoles
	}
	c.ReportingCurrency = strings.ToUpper(strings.TrimSpace(c.ReportingCurrency))
	return c
}

func (c Config) Validate() error {
	if c.TopK < 0 {
		return errors.New("top-k must not be negative")
	}
	return c.Fallback.Validate()
}

// Source is an adapter with its fetch deadline.
type Source struct {
	Adapter sources.Adapter
	Timeout time.Duration
}

type Deps struct {
	Matcher    Matcher
	Sources    []Source
	Aggregator Aggregator
	Scenarios  ScenarioGenerator
	Recorder   Recorder
	Logger     *zap.Logger
	Now        func() time.Time
	NewID      func() string
}

// Orchestrator prices requests. It keeps no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Matcher == nil || deps.Aggregator == nil || deps.Scenarios == nil {
		return nil, errors.New("matcher, aggregator and scenario generator are required")
	}
	deps.Sources = append([]Source(nil), deps.Sources...)
	seen := make(map[string]struct{}, len(deps.Sources))
	for i, s := range deps.Sources {
		if s.Adapter == nil {
			return nil, fmt.Errorf("source %d has no adapter", i)
		}
		if _, dup := seen[s.Adapter.ID()]; dup {
			return nil, fmt.Errorf("duplicate source id %q", s.Adapter.ID())
		}
		seen[s.Adapter.ID()] = struct{}{}
		if s.Timeout <= 0 {
			deps.Sources[i].Timeout = defaultSourceTimeout
		}
	}
	if deps.Recorder == nil {
		deps.Recorder = (*metrics.Recorder)(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Orchestrator{cfg: cfg.withDefaults(), deps: deps}, nil
}

// run carries the state of one request through the stages.
type run struct {
	id           string
	req          pricing.Request
	log          *zap.Logger
	outcome      *matching.Outcome
	accepted     []pricing.RoleMatch
	degradations []pricing.Degradation
	evidence     []aggregate.Evidence
	fallback     string
}

func (r *run) degrade(stage pricing.Stage, format string, args ...any) {
	reason := fmt.Sprintf(format, args...)
	r.degradations = append(r.degradations, pricing.Degradation{Stage: stage, Reason: reason})
	r.log.Warn("stage degraded", zap.String(logger.FieldStage, string(stage)), zap.String("reason", reason))
}

// Submit prices one request. It returns an error only for invalid requests,
// caller cancellation and internal invariant violations; missing data or
// failing sources produce a degraded result instead.
func (o *Orchestrator) Submit(ctx context.Context, req pricing.Request) (*pricing.Result, error) {
	started := time.Now()
	r := &run{id: o.deps.NewID(), req: req}
	r.log = logger.WithRequest(o.deps.Logger, r.id, "")
	r.log.Info("pricing request received",
		zap.String(logger.FieldStage, string(pricing.StageReceived)),
		zap.String("title", req.Title),
		zap.String("locale", req.Locale),
	)

	if err := req.Validate(); err != nil {
		o.deps.Recorder.ObserveRequest(statusInvalid, time.Since(started))
		return nil, err
	}

	result, err := o.submit(ctx, r)
	if err != nil {
		status := string(pricing.StatusFailed)
		if ctx.Err() != nil {
			status = "canceled"
		}
		o.deps.Recorder.ObserveRequest(status, time.Since(started))
		r.log.Error("pricing failed", zap.Error(err))
		return nil, err
	}

	o.deps.Recorder.ObserveRequest(string(result.Status), time.Since(started))
	o.deps.Recorder.ObserveConfidence(result.Confidence)
	r.log.Info("pricing complete",
		zap.String(logger.FieldStage, string(pricing.StageComplete)),
		zap.String("status", string(result.Status)),
		zap.Float64("target", result.Target),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

func (o *Orchestrator) submit(parent context.Context, r *run) (*pricing.Result, error) {
	ctx, cancel := context.WithTimeout(parent, o.cfg.RequestTimeout)
	defer cancel()

	if err := o.match(ctx, parent, r); err != nil {
		return nil, err
	}

	if len(r.accepted) > 0 {
		if err := o.fetch(ctx, parent, r); err != nil {
			return nil, err
		}
	}

	return o.aggregate(r)
}

func (o *Orchestrator) match(ctx, parent context.Context, r *run) error {
	started := time.Now()
	defer func() { o.deps.Recorder.ObserveStage(string(pricing.StageMatching), time.Since(started)) }()

	outcome, err := o.deps.Matcher.Resolve(ctx, r.req.Title, r.req.Description, o.cfg.TopK)
	if err != nil {
		if pricing.IsValidation(err) {
			return err
		}
		if parent.Err() != nil {
			return parent.Err()
		}
		r.outcome = &matching.Outcome{}
		r.degrade(pricing.StageMatching, "embedding unavailable: %v", err)
		return nil
	}

	r.outcome = outcome
	r.accepted = pricing.AcceptedMatches(outcome.Matches)

	if outcome.VerificationErr != nil {
		r.degrade(pricing.StageMatching, "verification unavailable, top embedding candidate used: %v", outcome.VerificationErr)
	}

	switch {
	case len(r.accepted) > 0:
		top := r.accepted[0]
		r.log.Info("role matched",
			zap.String(logger.FieldStage, string(pricing.StageMatching)),
			zap.String(logger.FieldRoleID, top.RoleID),
			zap.Float64("similarity", top.Similarity),
			zap.Float64("match_confidence", top.Confidence),
			zap.String("verdict", string(top.Verdict)),
		)
	case outcome.Verification == pricing.VerdictRejected:
		r.degrade(pricing.StageMatching, "match rejected by verifier: %s", nonEmpty(outcome.Rationale, "no rationale given"))
	default:
		r.degrade(pricing.StageMatching, "no canonical role matched")
	}
	return nil
}

type fetchResult struct {
	records []pricing.MarketDataRecord
	err     error
}

func (o *Orchestrator) fetch(ctx, parent context.Context, r *run) error {
	started := time.Now()
	defer func() { o.deps.Recorder.ObserveStage(string(pricing.StageFetching), time.Since(started)) }()

	roles := r.accepted
	if len(roles) > o.cfg.MaxRoles {
		roles = roles[:o.cfg.MaxRoles]
	}

	results := make([][]fetchResult, len(o.deps.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for si, src := range o.deps.Sources {
		results[si] = make([]fetchResult, len(roles))
		for ri, role := range roles {
			g.Go(func() error {
				results[si][ri] = o.fetchOne(gctx, src, role.RoleID, r.req.Locale)
				return nil
			})
		}
	}
	_ = g.Wait()

	if parent.Err() != nil {
		return parent.Err()
	}

	for si, src := range o.deps.Sources {
		id := src.Adapter.ID()
		var failures []error
		var used *pricing.RoleMatch
		var records []pricing.MarketDataRecord

		for ri := range roles {
			res := results[si][ri]
			if res.err != nil {
				failures = append(failures, res.err)
				continue
			}
			if len(res.records) > 0 {
				used = &roles[ri]
				records = res.records
				break
			}
		}

		for _, err := range failures {
			var unavailable *pricing.AdapterUnavailableError
			if errors.As(err, &unavailable) && unavailable.Timeout {
				r.degrade(pricing.StageFetching, "source %s timed out", id)
			} else {
				r.degrade(pricing.StageFetching, "source %s unavailable: %v", id, err)
			}
		}

		switch {
		case used != nil:
			o.deps.Recorder.ObserveSource(id, metrics.SourceOK)
			r.evidence = append(r.evidence, aggregate.Evidence{
				SourceID:     id,
				Kind:         src.Adapter.Kind(),
				MatchQuality: used.Confidence,
				Records:      records,
			})
		case len(failures) > 0:
			outcome := metrics.SourceError
			var unavailable *pricing.AdapterUnavailableError
			if errors.As(failures[0], &unavailable) && unavailable.Timeout {
				outcome = metrics.SourceTimeout
			}
			o.deps.Recorder.ObserveSource(id, outcome)
		default:
			o.deps.Recorder.ObserveSource(id, metrics.SourceEmpty)
		}
	}

	if len(r.evidence) == 0 {
		r.degrade(pricing.StageFetching, "no market data found for the matched roles")
	}
	return nil
}

func (o *Orchestrator) fetchOne(ctx context.Context, src Source, roleID, locale string) fetchResult {
	id := src.Adapter.ID()
	log := logger.WithSource(o.deps.Logger, id, roleID)

	sctx, cancel := context.WithTimeout(ctx, src.Timeout)
	defer cancel()

	records, err := src.Adapter.Fetch(sctx, roleID, locale)
	if err == nil && sctx.Err() != nil {
		err = sctx.Err()
	}
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded)
		log.Warn("source fetch failed", zap.Bool("timeout", timedOut), zap.Error(err))
		return fetchResult{err: &pricing.AdapterUnavailableError{SourceID: id, Timeout: timedOut, Err: err}}
	}

	valid := make([]pricing.MarketDataRecord, 0, len(records))
	for _, rec := range records {
		if rec.RoleID == "" {
			rec.RoleID = roleID
		}
		if rec.SourceID == "" {
			rec.SourceID = id
		}
		if err := rec.Validate(); err != nil {
			log.Warn("dropping invalid record", zap.Error(err))
			continue
		}
		valid = append(valid, rec)
	}

	log.Debug("source fetched", zap.Int("records", len(valid)))
	return fetchResult{records: valid}
}

func (o *Orchestrator) aggregate(r *run) (*pricing.Result, error) {
	started := time.Now()
	defer func() { o.deps.Recorder.ObserveStage(string(pricing.StageAggregating), time.Since(started)) }()

	now := o.deps.Now()
	estimate, err := o.deps.Aggregator.Aggregate(r.evidence, now)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	for _, ex := range estimate.Excluded {
		r.degrade(pricing.StageAggregating, "source %s excluded: %s", ex.SourceID, ex.Reason)
	}

	percentiles := estimate.Percentiles
	currency := estimate.Currency
	if estimate.Empty() {
		family := ""
		if len(r.outcome.Matches) > 0 {
			family = r.outcome.Matches[0].Family
		}
		percentiles, r.fallback = o.cfg.Fallback.Estimate(family, r.req.Locale)
		if len(r.degradations) == 0 {
			r.degrade(pricing.StageAggregating, "no source contributed")
		}
	}
	if currency == "" {
		currency = o.cfg.ReportingCurrency
	}

	if err := percentiles.Validate(); err != nil {
		return nil, &pricing.InvariantViolationError{Invariant: "monotonic percentiles", Detail: err.Error()}
	}

	bands, err := o.deps.Scenarios.Scenarios(percentiles)
	if err != nil {
		return nil, &pricing.InvariantViolationError{Invariant: "scenario input", Detail: err.Error()}
	}

	status := pricing.StatusComplete
	if len(r.degradations) > 0 {
		status = pricing.StatusDegraded
	}

	result := &pricing.Result{
		RequestID:      r.id,
		Status:         status,
		Target:         percentiles.P50,
		RecommendedMin: percentiles.P25,
		RecommendedMax: percentiles.P75,
		Percentiles:    percentiles,
		Currency:       currency,
		Confidence:     estimate.Confidence,
		Coverage:       pricing.Coverage(estimate.Contributions),
		Contributions:  estimate.Contributions,
		Matches:        r.outcome.Matches,
		Scenarios:      bands,
		Degradations:   r.degradations,
		IndexVersion:   r.outcome.IndexVersion,
		ComputedAt:     now,
	}
	result.Explanation = explain(r, result)
	return result, nil
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

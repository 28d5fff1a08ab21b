// Package ingest turns a lead notification into deliveries: it fetches the
// lead, normalizes and enriches it, and fans the record out to every sink.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-relay/internal/model"
	"github.com/sells-group/lead-relay/internal/normalize"
	"github.com/sells-group/lead-relay/internal/resilience"
	"github.com/sells-group/lead-relay/internal/sink"
	"github.com/sells-group/lead-relay/pkg/amocrm"
)

// Status is the terminal state of one invocation.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusPartial   Status = "partial"
	StatusFiltered  Status = "filtered"
	StatusFailed    Status = "failed"
)

// Stage names the step an invocation failed in.
type Stage string

const (
	StageFetchLead    Stage = "fetch_lead"
	StageParse        Stage = "parse"
	StageFetchUser    Stage = "fetch_user"
	StageFetchContact Stage = "fetch_contact"
	StageDispatch     Stage = "dispatch"
)

// Result describes what happened to one lead.
type Result struct {
	LeadID     int64
	Status     Status
	Stage      Stage
	Err        error
	Record     *model.Record
	SinkErrors map[string]error
	Duration   time.Duration
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithRetry sets the transport retry policy for CRM reads.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(in *Ingestor) {
		in.retry = cfg
	}
}

// WithCircuitBreaker shares cb across all CRM reads.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(in *Ingestor) {
		in.breaker = cb
	}
}

// Ingestor processes lead notifications.
type Ingestor struct {
	crm        amocrm.Client
	normalizer *normalize.Normalizer
	sinks      []sink.Sink
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// New creates an Ingestor delivering to sinks.
func New(crm amocrm.Client, normalizer *normalize.Normalizer, sinks []sink.Sink, opts ...Option) *Ingestor {
	in := &Ingestor{
		crm:        crm,
		normalizer: normalizer,
		sinks:      sinks,
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(in)
	}
	if in.breaker == nil {
		in.breaker = NewCRMBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	return in
}

// NewCRMBreaker returns a circuit breaker that trips on CRM transport
// failures and transient HTTP statuses. Auth and other HTTP errors leave it
// untouched.
func NewCRMBreaker(cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	cfg.ShouldTrip = func(err error) bool {
		return amocrm.IsTransport(err) || resilience.IsTransientHTTPStatus(amocrm.StatusCode(err))
	}
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = resilience.StateLogger("amocrm")
	}
	return resilience.NewCircuitBreaker(cfg)
}

// Process runs one invocation to completion. It never panics and never
// returns an error; the outcome is in Result.
func (in *Ingestor) Process(ctx context.Context, leadID int64) (res Result) {
	start := time.Now()
	res = Result{LeadID: leadID}
	log := zap.L().With(zap.Int64("lead_id", leadID))

	defer func() {
		if p := recover(); p != nil {
			res.Status = StatusFailed
			res.Err = eris.Errorf("ingest: panic: %v", p)
			log.Error("ingest: panic while processing lead", zap.Any("panic", p), zap.Stack("stack"))
		}
		res.Duration = time.Since(start)
	}()

	out, stage, err := in.Resolve(ctx, leadID)
	if err != nil {
		res.Status, res.Stage, res.Err = StatusFailed, stage, err
		log.Error("ingest: lead processing failed", zap.String("stage", string(stage)), zap.Error(err))
		return res
	}
	res.Record = out.Record
	if !out.Accepted() {
		res.Status = StatusFiltered
		log.Debug("ingest: lead filtered by branch",
			zap.String("branch", out.Branch),
			zap.String("accepted", in.normalizer.AcceptedBranch()),
		)
		return res
	}

	res.SinkErrors = in.dispatch(ctx, out.Record)
	res.Status = StatusDelivered
	if len(res.SinkErrors) > 0 {
		res.Status = StatusPartial
		res.Stage = StageDispatch
	}
	log.Info("ingest: lead processed",
		append(out.Record.Fields()[1:],
			zap.String("status", string(res.Status)),
			zap.Int("failed_sinks", len(res.SinkErrors)),
			zap.Duration("duration", time.Since(start)),
		)...,
	)
	return res
}

// Resolve fetches, normalizes and enriches a lead without dispatching it.
// On failure it reports the stage that failed.
func (in *Ingestor) Resolve(ctx context.Context, leadID int64) (normalize.Outcome, Stage, error) {
	payload, err := in.fetch(ctx, "get_lead", leadID, leadID, in.crm.GetLead)
	if err != nil {
		return normalize.Outcome{}, StageFetchLead, eris.Wrap(err, "ingest: fetch lead")
	}

	out, err := in.normalizer.Parse(payload)
	if err != nil {
		return normalize.Outcome{}, StageParse, eris.Wrap(err, "ingest: parse lead")
	}
	if !out.Accepted() {
		return out, "", nil
	}

	if stage, err := in.enrich(ctx, out.Record); err != nil {
		return out, stage, err
	}
	return out, "", nil
}

// enrich resolves the manager name and parent e-mail concurrently. The
// first failure cancels the other lookup.
func (in *Ingestor) enrich(ctx context.Context, rec *model.Record) (Stage, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu     sync.Mutex
		failed Stage
	)
	fail := func(stage Stage, err error) error {
		mu.Lock()
		if failed == "" {
			failed = stage
		}
		mu.Unlock()
		return err
	}

	if rec.HasManager() {
		g.Go(func() error {
			user, err := in.fetch(gctx, "get_user", rec.ID, *rec.Manager.ID, in.crm.GetUser)
			if err != nil {
				return fail(StageFetchUser, eris.Wrapf(err, "ingest: fetch user %d", *rec.Manager.ID))
			}
			in.normalizer.SetManagerName(rec, user)
			return nil
		})
	}
	if rec.HasParent() {
		g.Go(func() error {
			contact, err := in.fetch(gctx, "get_contact", rec.ID, *rec.Parent.ID, in.crm.GetContact)
			if err != nil {
				return fail(StageFetchContact, eris.Wrapf(err, "ingest: fetch contact %d", *rec.Parent.ID))
			}
			in.normalizer.SetParentEmail(rec, contact)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return failed, err
	}
	return "", nil
}

// fetch performs one CRM read through the circuit breaker, retrying
// transport failures only.
func (in *Ingestor) fetch(
	ctx context.Context,
	op string,
	leadID, id int64,
	call func(context.Context, int64) (json.RawMessage, error),
) (json.RawMessage, error) {
	cfg := in.retry
	cfg.ShouldRetry = amocrm.IsTransport
	cfg.OnRetry = resilience.RetryLogger(op, zap.Int64("lead_id", leadID), zap.Int64("id", id))

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (json.RawMessage, error) {
		return resilience.ExecuteVal(ctx, in.breaker, func(ctx context.Context) (json.RawMessage, error) {
			return call(ctx, id)
		})
	})
}

// dispatch delivers rec to every sink concurrently. A failing sink never
// affects the others.
func (in *Ingestor) dispatch(ctx context.Context, rec *model.Record) map[string]error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs map[string]error
	)
	for _, s := range in.sinks {
		g.Go(func() error {
			err := sendSafely(ctx, s, rec)
			if err == nil {
				zap.L().Info("ingest: delivered", zap.Int64("lead_id", rec.ID), zap.String("sink", s.Name()))
				return nil
			}
			zap.L().Error("ingest: sink delivery failed",
				zap.Int64("lead_id", rec.ID),
				zap.String("sink", s.Name()),
				zap.Error(err),
			)
			mu.Lock()
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[s.Name()] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func sendSafely(ctx context.Context, s sink.Sink, rec *model.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("ingest: sink %s panicked: %v", s.Name(), p)
		}
	}()
	return s.Send(ctx, rec)
}

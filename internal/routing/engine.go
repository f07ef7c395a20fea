package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/armslicense/armslicense/internal/assignment"
	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/reference"
	"github.com/armslicense/armslicense/internal/transitions"
	"github.com/armslicense/armslicense/internal/workflow"
)

// Config tunes the engine.
type Config struct {
	MaxAttempts    int
	PublishTimeout time.Duration
	AdminRole      string
	ApplicantRole  string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.AdminRole == "" {
		c.AdminRole = catalog.RoleAdmin
	}
	if c.ApplicantRole == "" {
		c.ApplicantRole = catalog.RoleApplicant
	}
	c.AdminRole = catalog.NormalizeCode(c.AdminRole)
	c.ApplicantRole = catalog.NormalizeCode(c.ApplicantRole)
	return c
}

// Engine validates and applies routing actions.
type Engine struct {
	repo        Repository
	registry    *reference.Registry
	cfg         Config
	logger      *slog.Logger
	publisher   EventPublisher
	invalidator Invalidator
	metrics     MetricsRecorder
	now         func() time.Time
	inflight    sync.WaitGroup
}

// NewEngine constructs an Engine.
func NewEngine(repo Repository, registry *reference.Registry, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// SetPublisher wires the post-commit event publisher.
func (e *Engine) SetPublisher(p EventPublisher) { e.publisher = p }

// SetInvalidator wires the queue cache invalidator.
func (e *Engine) SetInvalidator(inv Invalidator) { e.invalidator = inv }

// SetMetrics wires the metrics recorder.
func (e *Engine) SetMetrics(m MetricsRecorder) { e.metrics = m }

// WithNow overrides the clock used for events.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Wait blocks until every post-commit publish has finished.
func (e *Engine) Wait() { e.inflight.Wait() }

// Route applies req and returns the transition record it produced. A request
// carrying an already-recorded RequestKey returns the original record.
func (e *Engine) Route(ctx context.Context, req Request) (transitions.Record, error) {
	started := time.Now()
	outcome := "ok"
	label := "UNKNOWN"
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveRoute(label, outcome, time.Since(started))
		}
	}()

	action, err := e.parse(req)
	if err != nil {
		outcome = "invalid"
		return transitions.Record{}, err
	}
	label = metricLabel(action)
	req.ActorRole = catalog.NormalizeCode(req.ActorRole)

	if req.RequestKey != "" {
		prior, ok, err := e.replay(ctx, req)
		if err != nil {
			outcome = "error"
			return transitions.Record{}, err
		}
		if ok {
			outcome = "replay"
			return prior, nil
		}
	}

	snap, err := e.registry.Current()
	if err != nil {
		outcome = "error"
		return transitions.Record{}, err
	}

	for attempt := 1; ; attempt++ {
		current, err := e.repo.GetCase(ctx, req.ApplicationID)
		if err != nil {
			outcome = outcomeOf(err)
			return transitions.Record{}, err
		}
		result, err := e.evaluate(snap, current, req, action)
		if err != nil {
			outcome = outcomeOf(err)
			if errors.Is(err, workflow.ErrInvalidTransition) {
				e.logger.Warn("routing rejected invalid transition",
					slog.Int64("application_id", req.ApplicationID),
					slog.String("state", string(current.State)),
					slog.String("action", action.Code),
					slog.String("actor_role", req.ActorRole),
					slog.Int64("actor_user_id", req.ActorUserID),
				)
			}
			return transitions.Record{}, err
		}

		rec, err := e.commit(ctx, current, req, action, result)
		if err == nil {
			e.afterCommit(ctx, rec)
			return rec, nil
		}
		if errors.Is(err, transitions.ErrDuplicateRequestKey) {
			prior, ok, lookupErr := e.replay(ctx, req)
			if lookupErr == nil && ok {
				outcome = "replay"
				return prior, nil
			}
			outcome = "error"
			return transitions.Record{}, err
		}
		if !errors.Is(err, assignment.ErrStaleOwnership) {
			outcome = outcomeOf(err)
			return transitions.Record{}, err
		}

		fresh, readErr := e.repo.GetCase(ctx, req.ApplicationID)
		if readErr != nil {
			outcome = outcomeOf(readErr)
			return transitions.Record{}, readErr
		}
		if (ownerScoped(action.Kind) && fresh.Owner.Role != current.Owner.Role) || attempt >= e.cfg.MaxAttempts {
			outcome = "conflict"
			return transitions.Record{}, fmt.Errorf("%w: application %d", ErrConcurrentModification, req.ApplicationID)
		}
		if e.metrics != nil {
			e.metrics.IncRetry()
		}
		e.logger.Debug("routing retry after stale ownership",
			slog.Int64("application_id", req.ApplicationID),
			slog.Int("attempt", attempt),
		)
	}
}

// AllowedActions lists what actor may currently do with an application.
func (e *Engine) AllowedActions(ctx context.Context, applicationID int64, actor Actor) ([]AvailableAction, error) {
	snap, err := e.registry.Current()
	if err != nil {
		return nil, err
	}
	current, err := e.repo.GetCase(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	req := Request{ApplicationID: applicationID, ActorRole: catalog.NormalizeCode(actor.Role), ActorUserID: actor.UserID}

	var out []AvailableAction
	for _, code := range workflow.ActionCodes() {
		action, err := workflow.ParseAction(code)
		if err != nil {
			continue
		}
		if _, err := e.evaluate(snap, current, req, action); err == nil {
			out = append(out, AvailableAction{Code: action.Code})
		}
	}
	for _, target := range snap.Graph.AllowedTargets(req.ActorRole) {
		action := workflow.ForwardAction(target.Code)
		if _, err := e.evaluate(snap, current, req, action); err == nil {
			out = append(out, AvailableAction{Code: action.Code, TargetRole: target.Code})
		}
	}
	return out, nil
}

// History returns the transition records of an application in order.
func (e *Engine) History(ctx context.Context, applicationID int64) ([]transitions.Record, error) {
	if _, err := e.repo.GetCase(ctx, applicationID); err != nil {
		return nil, err
	}
	return e.repo.History(ctx, applicationID)
}

func (e *Engine) parse(req Request) (workflow.Action, error) {
	if req.ApplicationID <= 0 {
		return workflow.Action{}, fmt.Errorf("%w: application id required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ActorRole) == "" {
		return workflow.Action{}, fmt.Errorf("%w: actor role required", ErrInvalidRequest)
	}
	code := catalog.NormalizeCode(req.Action)
	target := catalog.NormalizeCode(req.TargetRole)
	if code == "FORWARD" {
		if target == "" {
			return workflow.Action{}, fmt.Errorf("%w: target role required", ErrInvalidRequest)
		}
		return workflow.ForwardAction(target), nil
	}
	action, err := workflow.ParseAction(code)
	if err != nil {
		return workflow.Action{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if action.Kind == workflow.KindForward && target != "" && target != action.Target {
		return workflow.Action{}, fmt.Errorf("%w: target role %s does not match %s", ErrInvalidRequest, target, action.Code)
	}
	return action, nil
}

func (e *Engine) replay(ctx context.Context, req Request) (transitions.Record, bool, error) {
	prior, err := e.repo.TransitionByRequestKey(ctx, req.RequestKey)
	if errors.Is(err, transitions.ErrNotFound) {
		return transitions.Record{}, false, nil
	}
	if err != nil {
		return transitions.Record{}, false, err
	}
	if prior.ApplicationID != req.ApplicationID {
		return transitions.Record{}, false, fmt.Errorf("%w: request key already used for another application", ErrInvalidRequest)
	}
	return prior, true, nil
}

// evaluation is the decision reached for one attempt, before persistence.
type evaluation struct {
	outcome workflow.Outcome
}

func (e *Engine) evaluate(snap *reference.Snapshot, c assignment.Case, req Request, action workflow.Action) (evaluation, error) {
	isAdmin := req.ActorRole == e.cfg.AdminRole

	if !e.hasPermission(snap, req.ActorRole, action) {
		return evaluation{}, fmt.Errorf("%w: %s lacks %s", ErrPermissionDenied, req.ActorRole, action.Code)
	}

	switch {
	case action.Kind == workflow.KindSubmit:
		if !isAdmin && req.ActorUserID != c.ApplicantID {
			return evaluation{}, fmt.Errorf("%w: only the applicant may submit", ErrPermissionDenied)
		}
	case ownerScoped(action.Kind):
		if !isAdmin && !holds(c.Owner, req) {
			return evaluation{}, fmt.Errorf("%w: %s does not hold application %d", ErrPermissionDenied, req.ActorRole, c.ApplicationID)
		}
	}

	if action.Kind == workflow.KindForward {
		if _, ok := snap.Catalog.Role(action.Target); !ok {
			return evaluation{}, fmt.Errorf("%w: %s", catalog.ErrUnknownRole, action.Target)
		}
		if !snap.Graph.CanForward(req.ActorRole, action.Target) {
			return evaluation{}, fmt.Errorf("%w: %s -> %s", ErrIllegalHierarchyEdge, req.ActorRole, action.Target)
		}
	}

	out, err := workflow.Next(c.State, action)
	if err != nil {
		return evaluation{}, err
	}
	return evaluation{outcome: out}, nil
}

func (e *Engine) hasPermission(snap *reference.Snapshot, role string, action workflow.Action) bool {
	if snap.Catalog.HasPermission(role, action.Code) {
		return true
	}
	return action.Kind == workflow.KindForward &&
		role == e.cfg.AdminRole &&
		snap.Catalog.HasPermission(role, catalog.PermForwardAny)
}

// ownerScoped reports whether only the current holder may take actions of kind.
func ownerScoped(kind workflow.Kind) bool {
	switch kind {
	case workflow.KindSubmit, workflow.KindRedFlag, workflow.KindClearFlag, workflow.KindDispose:
		return false
	default:
		return true
	}
}

func holds(owner assignment.Owner, req Request) bool {
	if owner.Role != req.ActorRole {
		return false
	}
	return owner.UserID == nil || *owner.UserID == req.ActorUserID
}

func (e *Engine) commit(ctx context.Context, c assignment.Case, req Request, action workflow.Action, ev evaluation) (transitions.Record, error) {
	var rec transitions.Record
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		newOwner := c.Owner
		newState := ev.outcome.To
		switch ev.outcome.Owner {
		case workflow.OwnerTarget:
			newOwner = assignment.Owner{Role: action.Target}
		case workflow.OwnerPrior:
			prior, err := e.priorHolder(ctx, tx, c)
			if err != nil {
				return err
			}
			newOwner = prior
		}
		if ev.outcome.RestorePrior {
			flag, err := tx.LatestFlag(ctx, c.ApplicationID)
			if err != nil {
				if errors.Is(err, transitions.ErrNotFound) {
					return fmt.Errorf("%w: no red flag to clear", workflow.ErrInvalidTransition)
				}
				return err
			}
			newState = flag.FromState
		}

		if _, err := tx.Reassign(ctx, assignment.Reassignment{
			ApplicationID:   c.ApplicationID,
			ExpectedRole:    c.Owner.Role,
			ExpectedVersion: c.Version,
			NewOwner:        newOwner,
			NewState:        newState,
			Submitted:       action.Kind == workflow.KindSubmit,
		}); err != nil {
			return err
		}

		appended, err := tx.AppendTransition(ctx, transitions.Record{
			ApplicationID: c.ApplicationID,
			FromRole:      c.Owner.Role,
			ToRole:        newOwner.Role,
			ToUserID:      newOwner.UserID,
			FromState:     c.State,
			ToState:       newState,
			ActorUserID:   req.ActorUserID,
			ActorRole:     req.ActorRole,
			Action:        action.Code,
			Remarks:       strings.TrimSpace(req.Remarks),
			RequestKey:    req.RequestKey,
		})
		if err != nil {
			return err
		}
		rec = appended
		return nil
	})
	return rec, err
}

// priorHolder resolves who a returned case goes back to: the role that last
// forwarded it into the current owner role, else the applicant. The owner is
// narrowed to the forwarding officer only when that officer acted as the
// role itself; a forward made on the role's behalf (ADMIN) returns to the
// whole role queue.
func (e *Engine) priorHolder(ctx context.Context, tx TxRepository, c assignment.Case) (assignment.Owner, error) {
	fwd, err := tx.LatestForwardInto(ctx, c.ApplicationID, c.Owner.Role)
	if err == nil {
		if fwd.ActorRole != fwd.FromRole {
			return assignment.Owner{Role: fwd.FromRole}, nil
		}
		user := fwd.ActorUserID
		return assignment.Owner{Role: fwd.FromRole, UserID: &user}, nil
	}
	if !errors.Is(err, transitions.ErrNotFound) {
		return assignment.Owner{}, err
	}
	applicant := c.ApplicantID
	return assignment.Owner{Role: e.cfg.ApplicantRole, UserID: &applicant}, nil
}

func (e *Engine) afterCommit(ctx context.Context, rec transitions.Record) {
	e.logger.Info("application routed",
		slog.Int64("application_id", rec.ApplicationID),
		slog.Int("seq", rec.Seq),
		slog.String("action", rec.Action),
		slog.String("from_role", rec.FromRole),
		slog.String("to_role", rec.ToRole),
		slog.String("to_state", string(rec.ToState)),
	)
	base := context.WithoutCancel(ctx)
	if e.invalidator != nil {
		invCtx, cancel := context.WithTimeout(base, e.cfg.PublishTimeout)
		if err := e.invalidator.Invalidate(invCtx); err != nil {
			e.logger.Warn("queue cache invalidation failed",
				slog.Int64("application_id", rec.ApplicationID),
				slog.Any("error", err),
			)
		}
		cancel()
	}
	if e.publisher == nil {
		return
	}
	evt := Event{
		ID:            uuid.NewString(),
		ApplicationID: rec.ApplicationID,
		Seq:           rec.Seq,
		Action:        rec.Action,
		FromRole:      rec.FromRole,
		ToRole:        rec.ToRole,
		ToUserID:      rec.ToUserID,
		FromState:     rec.FromState,
		ToState:       rec.ToState,
		ActorUserID:   rec.ActorUserID,
		ActorRole:     rec.ActorRole,
		OccurredAt:    e.now().UTC(),
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(base, e.cfg.PublishTimeout)
		defer cancel()
		if err := e.publisher.PublishRoutingEvent(ctx, evt); err != nil {
			e.logger.Warn("routing event publish failed",
				slog.Int64("application_id", evt.ApplicationID),
				slog.Any("error", err),
			)
		}
	}()
}

func metricLabel(action workflow.Action) string {
	if action.Kind == workflow.KindForward {
		return string(workflow.KindForward)
	}
	return action.Code
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "denied"
	case errors.Is(err, ErrIllegalHierarchyEdge):
		return "illegal_edge"
	case errors.Is(err, workflow.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, assignment.ErrNotFound), errors.Is(err, catalog.ErrUnknownRole):
		return "not_found"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	default:
		return "error"
	}
}

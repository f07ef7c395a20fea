// Package memstore keeps applications, transition records and users in
// process memory. It backs the memory storage driver and the package tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/armslicense/armslicense/internal/applications"
	"github.com/armslicense/armslicense/internal/assignment"
	"github.com/armslicense/armslicense/internal/auth"
	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/queues"
	"github.com/armslicense/armslicense/internal/routing"
	"github.com/armslicense/armslicense/internal/seed"
	"github.com/armslicense/armslicense/internal/shared"
	"github.com/armslicense/armslicense/internal/transitions"
	"github.com/armslicense/armslicense/internal/workflow"
)

// Store is a concurrency-safe in-memory repository. Transactions are
// serialised and staged; nothing is visible to readers until commit.
type Store struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	apps       map[int64]applications.Application
	records    []transitions.Record
	users      map[int64]auth.User
	sessions   map[string]int64
	nextApp    int64
	nextRecord int64
	nextUser   int64
	now        func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		apps:     make(map[int64]applications.Application),
		users:    make(map[int64]auth.User),
		sessions: make(map[string]int64),
		now:      time.Now,
	}
}

// WithNow overrides the clock used for timestamps.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AddUser stores an active user and returns it with its assigned id.
func (s *Store) AddUser(email, name, role, passwordHash string) auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUser++
	ts := s.now().UTC()
	u := auth.User{
		ID:           s.nextUser,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		RoleCode:     catalog.NormalizeCode(role),
		IsActive:     true,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	s.users[u.ID] = u
	return u
}

// ApplySeed stores the users declared in f with bcrypt-hashed passwords.
func (s *Store) ApplySeed(f *seed.File) error {
	for _, u := range f.Users {
		if _, err := s.FindByEmail(context.Background(), u.Email); err == nil {
			continue
		}
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return fmt.Errorf("memstore: hash password for %s: %w", u.Email, err)
		}
		s.AddUser(u.Email, u.Name, u.Role, hash)
	}
	return nil
}

// CreateApplication implements applications.Repository.
func (s *Store) CreateApplication(_ context.Context, in applications.NewApplication) (applications.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextApp++
	ts := s.now().UTC()
	app := applications.Application{
		ID:          s.nextApp,
		ApplicantID: in.ApplicantID,
		State:       workflow.StateDraft,
		OwnerRole:   catalog.NormalizeCode(in.OwnerRole),
		Version:     1,
		Details:     in.Details,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	s.apps[app.ID] = app
	return cloneApp(app), nil
}

// GetApplication implements applications.Repository.
func (s *Store) GetApplication(_ context.Context, id int64) (applications.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return applications.Application{}, applications.ErrNotFound
	}
	return cloneApp(app), nil
}

// GetCase implements routing.Repository.
func (s *Store) GetCase(_ context.Context, id int64) (assignment.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return assignment.Case{}, assignment.ErrNotFound
	}
	return caseOf(app), nil
}

// TransitionByRequestKey implements routing.Repository.
func (s *Store) TransitionByRequestKey(_ context.Context, key string) (transitions.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if key != "" && rec.RequestKey == key {
			return cloneRecord(rec), nil
		}
	}
	return transitions.Record{}, transitions.ErrNotFound
}

// History implements routing.Repository.
func (s *Store) History(_ context.Context, applicationID int64) ([]transitions.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recordsOf(s.records, applicationID), nil
}

// WithTx implements routing.Repository.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, routing.TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{store: s, apps: make(map[int64]applications.Application)}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, app := range t.apps {
		s.apps[id] = app
	}
	s.records = append(s.records, t.records...)
	return nil
}

// ListQueue implements queues.Repository.
func (s *Store) ListQueue(_ context.Context, f queues.Filter) ([]queues.Item, error) {
	matched, err := s.matchQueue(f)
	if err != nil {
		return nil, err
	}
	if f.Offset >= len(matched) {
		return []queues.Item{}, nil
	}
	end := len(matched)
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], nil
}

// CountQueue implements queues.Repository.
func (s *Store) CountQueue(_ context.Context, f queues.Filter) (int, error) {
	matched, err := s.matchQueue(f)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (s *Store) matchQueue(f queues.Filter) ([]queues.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match func(app applications.Application) bool
	switch {
	case f.Queue.GlobalStates() != nil:
		states := f.Queue.GlobalStates()
		match = func(app applications.Application) bool { return hasState(states, app.State) }
	case f.Queue == queues.QueueSent:
		match = func(app applications.Application) bool {
			if app.OwnerRole == f.Role {
				return false
			}
			latest, ok := latestRecord(s.records, app.ID)
			if !ok {
				return false
			}
			return latest.FromRole == f.Role && latest.ActorRole == f.Role && latest.ToRole != f.Role &&
				(f.UserID == 0 || latest.ActorUserID == f.UserID)
		}
	case f.Queue.OwnedStates() != nil:
		states := f.Queue.OwnedStates()
		match = func(app applications.Application) bool {
			if !hasState(states, app.State) || app.OwnerRole != f.Role {
				return false
			}
			if f.UserID != 0 && app.OwnerUserID != nil && *app.OwnerUserID != f.UserID {
				return false
			}
			if f.Queue == queues.QueueFresh {
				for _, rec := range s.records {
					if rec.ApplicationID == app.ID && rec.IsForward() {
						return false
					}
				}
			}
			return true
		}
	default:
		return nil, queues.ErrUnknownQueue
	}

	items := make([]queues.Item, 0)
	for _, app := range s.apps {
		if !match(app) {
			continue
		}
		items = append(items, queues.Item{
			ApplicationID: app.ID,
			ApplicantID:   app.ApplicantID,
			ApplicantName: app.Details.FullName,
			State:         app.State,
			OwnerRole:     app.OwnerRole,
			OwnerUserID:   cloneID(app.OwnerUserID),
			UpdatedAt:     app.UpdatedAt,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ApplicationID > items[j].ApplicationID
	})
	return items, nil
}

// FindByEmail implements auth.Repository.
func (s *Store) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			u := u
			return &u, nil
		}
	}
	return nil, shared.ErrNotFound
}

// FindByID implements auth.Repository.
func (s *Store) FindByID(_ context.Context, id int64) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &u, nil
}

// ListByRole implements auth.Repository.
func (s *Store) ListByRole(_ context.Context, role string) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role = catalog.NormalizeCode(role)
	var out []auth.User
	for _, u := range s.users {
		if u.RoleCode == role && u.IsActive {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateSession implements auth.Repository.
func (s *Store) CreateSession(_ context.Context, id string, userID int64, _ time.Time, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = userID
	return nil
}

// DeleteSession implements auth.Repository.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// tx stages writes for one routing transaction.
type tx struct {
	store   *Store
	apps    map[int64]applications.Application
	records []transitions.Record
}

func (t *tx) app(id int64) (applications.Application, bool) {
	if app, ok := t.apps[id]; ok {
		return app, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	app, ok := t.store.apps[id]
	return app, ok
}

func (t *tx) visibleRecords(applicationID int64) []transitions.Record {
	t.store.mu.RLock()
	recs := recordsOf(t.store.records, applicationID)
	t.store.mu.RUnlock()
	return append(recs, recordsOf(t.records, applicationID)...)
}

func (t *tx) GetCase(_ context.Context, id int64) (assignment.Case, error) {
	app, ok := t.app(id)
	if !ok {
		return assignment.Case{}, assignment.ErrNotFound
	}
	return caseOf(app), nil
}

func (t *tx) Reassign(_ context.Context, r assignment.Reassignment) (assignment.Case, error) {
	app, ok := t.app(r.ApplicationID)
	if !ok {
		return assignment.Case{}, assignment.ErrNotFound
	}
	if app.Version != r.ExpectedVersion || app.OwnerRole != r.ExpectedRole {
		return assignment.Case{}, assignment.ErrStaleOwnership
	}
	app.OwnerRole = r.NewOwner.Role
	app.OwnerUserID = cloneID(r.NewOwner.UserID)
	app.State = r.NewState
	app.IsSubmitted = app.IsSubmitted || r.Submitted
	app.Version++
	app.UpdatedAt = t.store.now().UTC()
	t.apps[app.ID] = app
	return caseOf(app), nil
}

func (t *tx) AppendTransition(_ context.Context, rec transitions.Record) (transitions.Record, error) {
	if rec.RequestKey != "" {
		t.store.mu.RLock()
		for _, existing := range t.store.records {
			if existing.RequestKey == rec.RequestKey {
				t.store.mu.RUnlock()
				return transitions.Record{}, transitions.ErrDuplicateRequestKey
			}
		}
		t.store.mu.RUnlock()
		for _, staged := range t.records {
			if staged.RequestKey == rec.RequestKey {
				return transitions.Record{}, transitions.ErrDuplicateRequestKey
			}
		}
	}
	seq := 0
	for _, existing := range t.visibleRecords(rec.ApplicationID) {
		if existing.Seq > seq {
			seq = existing.Seq
		}
	}
	t.store.mu.Lock()
	t.store.nextRecord++
	rec.ID = t.store.nextRecord
	t.store.mu.Unlock()
	rec.Seq = seq + 1
	rec.ToUserID = cloneID(rec.ToUserID)
	rec.CreatedAt = t.store.now().UTC()
	t.records = append(t.records, rec)
	return cloneRecord(rec), nil
}

func (t *tx) LatestForwardInto(_ context.Context, applicationID int64, role string) (transitions.Record, error) {
	recs := t.visibleRecords(applicationID)
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if rec.ToRole == role && rec.FromRole != rec.ToRole && strings.HasPrefix(rec.Action, catalog.ForwardPrefix) {
			return cloneRecord(rec), nil
		}
	}
	return transitions.Record{}, transitions.ErrNotFound
}

func (t *tx) LatestFlag(_ context.Context, applicationID int64) (transitions.Record, error) {
	recs := t.visibleRecords(applicationID)
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].OpensFlag() {
			return cloneRecord(recs[i]), nil
		}
	}
	return transitions.Record{}, transitions.ErrNotFound
}

func caseOf(app applications.Application) assignment.Case {
	return assignment.Case{
		ApplicationID: app.ID,
		ApplicantID:   app.ApplicantID,
		State:         app.State,
		Owner:         assignment.Owner{Role: app.OwnerRole, UserID: cloneID(app.OwnerUserID)},
		Version:       app.Version,
		IsSubmitted:   app.IsSubmitted,
		UpdatedAt:     app.UpdatedAt,
	}
}

func recordsOf(all []transitions.Record, applicationID int64) []transitions.Record {
	var out []transitions.Record
	for _, rec := range all {
		if rec.ApplicationID == applicationID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func latestRecord(all []transitions.Record, applicationID int64) (transitions.Record, bool) {
	var (
		latest transitions.Record
		found  bool
	)
	for _, rec := range all {
		if rec.ApplicationID == applicationID && (!found || rec.Seq > latest.Seq) {
			latest, found = rec, true
		}
	}
	return latest, found
}

func hasState(states []workflow.State, s workflow.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func cloneApp(app applications.Application) applications.Application {
	app.OwnerUserID = cloneID(app.OwnerUserID)
	return app
}

func cloneRecord(rec transitions.Record) transitions.Record {
	rec.ToUserID = cloneID(rec.ToUserID)
	return rec
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

var (
	_ routing.Repository      = (*Store)(nil)
	_ queues.Repository       = (*Store)(nil)
	_ applications.Repository = (*Store)(nil)
	_ auth.Repository         = (*Store)(nil)
)

// Package designer hosts designer sessions: it composes panel state, the
// entity draft and the key-field binder, gates saving, and drives submits
// against the domain store.
package designer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/designer/internal/definition"
	"github.com/pitabwire/designer/internal/domainstore"
	"github.com/pitabwire/designer/internal/observability"
	"github.com/pitabwire/designer/internal/schema"
	"github.com/pitabwire/designer/model"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultSaveTimeout = 15 * time.Second
	DefaultMaxSessions = 10000
)

// Manager owns every open designer session.
type Manager struct {
	registry    *definition.Registry
	loader      domainstore.Loader
	saver       domainstore.Saver
	lister      domainstore.Lister
	idempotency IdempotencyStore
	idemTTL     time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger

	idleTimeout time.Duration
	saveTimeout time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures optional dependencies.
type Option func(*Manager)

// WithIdempotencyStore enables submit deduplication.
func WithIdempotencyStore(store IdempotencyStore, ttl time.Duration) Option {
	return func(m *Manager) {
		m.idempotency = store
		if ttl > 0 {
			m.idemTTL = ttl
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the fallback logger used when the request context
// carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithIdleTimeout sets how long a session may go unused before SweepIdle
// drops it.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithSaveTimeout bounds a single call to the domain saver.
func WithSaveTimeout(d time.Duration) Option {
	return func(m *Manager) { m.saveTimeout = d }
}

// WithMaxSessions caps the number of open sessions. Zero means no cap.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.maxSessions = n }
}

// WithDomainLister sets where ListDomains reads from. By default the
// loader is used when it can list.
func WithDomainLister(l domainstore.Lister) Option {
	return func(m *Manager) { m.lister = l }
}

// WithClock replaces the wall clock. For tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager with its required dependencies.
func NewManager(
	registry *definition.Registry,
	loader domainstore.Loader,
	saver domainstore.Saver,
	opts ...Option,
) *Manager {
	m := &Manager{
		registry:    registry,
		loader:      loader,
		saver:       saver,
		idemTTL:     DefaultIdempotencyTTL,
		logger:      zap.NewNop(),
		idleTimeout: DefaultIdleTimeout,
		saveTimeout: DefaultSaveTimeout,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
	if l, ok := loader.(domainstore.Lister); ok {
		m.lister = l
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) log(ctx context.Context) *zap.Logger {
	return observability.RequestLogger(ctx, m.logger)
}

// Definitions returns every designer kind that can be opened.
func (m *Manager) Definitions() []model.DesignerDefinition {
	return m.registry.AllDesigners()
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ListDomains returns the caller's saved domains that a designer can open,
// optionally only those of kind.
func (m *Manager) ListDomains(ctx context.Context, rctx *model.RequestContext, kind string) ([]model.DomainSummary, error) {
	if kind != "" {
		if _, ok := m.registry.GetDesigner(kind); !ok {
			return nil, model.NewDesignerNotDefinedError(kind)
		}
	}
	if m.lister == nil {
		return []model.DomainSummary{}, nil
	}

	designs, err := m.lister.ListDomains(ctx, rctx.TenantID, kind)
	if err != nil {
		return nil, m.storeError(ctx, "list domains", err)
	}
	result := make([]model.DomainSummary, 0, len(designs))
	for _, d := range designs {
		if _, ok := m.registry.GetDesigner(d.Kind); !ok {
			continue
		}
		result = append(result, model.DomainSummary{
			ID:        d.ID,
			Kind:      d.Kind,
			Name:      d.Name,
			KeyName:   d.KeyName,
			KeyType:   d.KeyType,
			Version:   d.Version,
			UpdatedAt: d.UpdatedAt,
		})
	}
	return result, nil
}

// Open starts a designer session for kind. With a domainID the existing
// domain is loaded and its key locked; without one a new entity starts
// with no key.
func (m *Manager) Open(ctx context.Context, rctx *model.RequestContext, kind, domainID string) (model.DesignerDescriptor, error) {
	def, ok := m.registry.GetDesigner(kind)
	if !ok {
		return model.DesignerDescriptor{}, model.NewDesignerNotDefinedError(kind)
	}

	d := draft{Fields: schema.NewCollection()}
	mode := "create"
	if domainID != "" {
		design, err := m.loader.LoadDomain(ctx, rctx.TenantID, domainID)
		if err != nil {
			return model.DesignerDescriptor{}, m.storeError(ctx, "load domain", err)
		}
		if design.Kind != kind {
			return model.DesignerDescriptor{}, model.NewBadRequestError(
				fmt.Sprintf("domain %q is a %q, not a %q", domainID, design.Kind, kind),
			)
		}
		d = draftFromDesign(design)
		mode = "edit"
	}

	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		m.log(ctx).Warn("designer session limit reached", zap.Int("max_sessions", m.maxSessions))
		return model.DesignerDescriptor{}, model.NewTooManySessionsError()
	}
	s := newSession(uuid.NewString(), rctx, def, d, m.now())
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.metrics.RecordSessionOpened(kind, mode)
	m.log(ctx).Info("designer session opened",
		zap.String("session_id", s.id),
		zap.String("kind", kind),
		zap.String("mode", mode),
		zap.String("domain_id", domainID),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor(), nil
}

// Get returns the session descriptor.
func (m *Manager) Get(ctx context.Context, rctx *model.RequestContext, sessionID string) (model.DesignerDescriptor, error) {
	return m.update(ctx, rctx, sessionID, func(*Session) error { return nil })
}

// TogglePanel expands or collapses panel index.
func (m *Manager) TogglePanel(ctx context.Context, rctx *model.RequestContext, sessionID string, index int, collapsed bool) (model.DesignerDescriptor, error) {
	return m.update(ctx, rctx, sessionID, func(s *Session) error {
		if !s.state.InRange(index) {
			return model.NewBadRequestError(fmt.Sprintf("panel index %d out of range [0,%d)", index, s.state.Len()))
		}
		s.state = s.state.TogglePanel(index, collapsed)
		s.collapsed[index] = collapsed

		m.metrics.RecordPanelToggle(s.def.Kind, collapsed)
		m.log(ctx).Debug("panel toggled",
			zap.String("session_id", sessionID),
			zap.Int("panel_index", index),
			zap.Bool("collapsed", collapsed),
			zap.Ints("visited", s.state.Visited()),
		)
		return nil
	})
}

// Apply applies one edit event to the draft.
func (m *Manager) Apply(ctx context.Context, rctx *model.RequestContext, sessionID string, e model.DesignerEvent) (model.DesignerDescriptor, error) {
	if err := e.Validate(); err != nil {
		return model.DesignerDescriptor{}, model.NewBadRequestError(err.Error())
	}
	return m.update(ctx, rctx, sessionID, func(s *Session) error {
		err := s.apply(e)
		outcome := "applied"
		if err != nil {
			outcome = "rejected"
			m.logRejected(ctx, sessionID, "designer event rejected", err, zap.String("event_type", string(e.Type)))
		}
		m.metrics.RecordEvent(s.def.Kind, string(e.Type), outcome)
		return err
	})
}

// SelectKey moves the entity key to target.
func (m *Manager) SelectKey(ctx context.Context, rctx *model.RequestContext, sessionID string, target model.KeySelection) (model.DesignerDescriptor, error) {
	return m.update(ctx, rctx, sessionID, func(s *Session) error {
		from := schema.SelectionOf(s.draft.Fields)
		err := s.selectKey(target)
		outcome := "selected"
		if err != nil {
			outcome = "rejected"
			var env *model.ErrorEnvelope
			if errors.As(err, &env) && env.Code == model.ErrKeyLocked {
				outcome = "locked"
			}
			m.logRejected(ctx, sessionID, "key selection rejected", err, zap.Stringer("target", target))
		} else {
			m.log(ctx).Debug("key selected",
				zap.String("session_id", sessionID),
				zap.Stringer("from", from),
				zap.Stringer("to", target),
			)
		}
		m.metrics.RecordKeySelection(s.def.Kind, target.Kind.String(), outcome)
		return err
	})
}

// Submit saves the draft. The session lock is not held while the saver
// runs, so the user can keep editing and navigating. If the draft was
// edited in the meantime the save result does not overwrite it, and if the
// session was closed the result is discarded. A non-empty idempotency key
// makes retries of the same submit return the first result.
func (m *Manager) Submit(ctx context.Context, rctx *model.RequestContext, sessionID, idempotencyKey string) (desc model.DesignerDescriptor, err error) {
	s, err := m.session(rctx, sessionID)
	if err != nil {
		return model.DesignerDescriptor{}, err
	}

	ctx, span := observability.StartSpan(ctx, "designer.submit",
		observability.AttrSessionID.String(sessionID),
		observability.AttrTenantID.String(rctx.TenantID),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var idemKey, owner string
	if idempotencyKey != "" && m.idempotency != nil {
		idemKey = FormatIdempotencyKey(rctx.TenantID, idempotencyKey)
		owner = ownerHash(rctx, sessionID)
		cached, found, cerr := m.idempotency.Check(ctx, idemKey, owner)
		var env *model.ErrorEnvelope
		switch {
		case errors.As(cerr, &env):
			return model.DesignerDescriptor{}, env
		case cerr != nil:
			m.log(ctx).Warn("idempotency check failed; submitting without it", zap.Error(cerr))
			idemKey = ""
		case found && cached != nil:
			span.SetAttributes(observability.AttrReplayed.Bool(true))
			m.metrics.RecordIdempotentReplay()
			return m.Get(ctx, rctx, sessionID)
		}
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return model.DesignerDescriptor{}, model.NewSessionClosedError(sessionID)
	case s.state.Submitting:
		s.mu.Unlock()
		return model.DesignerDescriptor{}, model.NewSubmitInProgressError()
	case !s.canSave():
		s.mu.Unlock()
		return model.DesignerDescriptor{}, model.NewCannotSaveError()
	}
	kind := s.def.Kind
	design := s.draft.design(kind)
	gen := s.generation
	s.state = s.state.WithSubmitting(true)
	s.lastError = nil
	s.lastUsed = m.now()
	s.mu.Unlock()

	span.SetAttributes(observability.AttrDesignerKind.String(kind))

	// The save outlives a dropped client connection; retries are answered
	// from the idempotency store.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.saveTimeout)
	start := time.Now()
	saved, saveErr := m.saver.SaveDomain(saveCtx, rctx.TenantID, design)
	cancel()
	elapsed := time.Since(start)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		m.metrics.RecordSubmit(kind, "discarded", elapsed)
		m.log(ctx).Info("submit result discarded; session closed",
			zap.String("session_id", sessionID),
			zap.Bool("saved", saveErr == nil),
		)
		return model.DesignerDescriptor{}, model.NewSessionClosedError(sessionID)
	}
	s.state = s.state.WithSubmitting(false)
	s.lastUsed = m.now()
	stale := s.generation != gen

	if saveErr != nil {
		env := m.saveFailed(ctx, s, saveErr, stale)
		s.mu.Unlock()
		m.metrics.RecordSubmit(kind, "failed", elapsed)
		return model.DesignerDescriptor{}, env
	}

	s.saveSucceeded(saved, stale)
	desc = s.descriptor()
	s.mu.Unlock()

	outcome := "saved"
	if stale {
		outcome = "saved_stale"
	}
	m.metrics.RecordSubmit(kind, outcome, elapsed)
	span.SetAttributes(observability.AttrDomainID.String(saved.ID))
	m.log(ctx).Info("domain saved",
		zap.String("session_id", sessionID),
		zap.String("kind", kind),
		zap.String("domain_id", saved.ID),
		zap.Int("version", saved.Version),
		zap.Bool("edited_during_save", stale),
		zap.Duration("duration", elapsed),
	)

	if idemKey != "" {
		result := SubmitResult{SessionID: sessionID, DomainID: saved.ID, Version: saved.Version, SavedAt: saved.UpdatedAt}
		if serr := m.idempotency.Store(ctx, idemKey, owner, result, m.idemTTL); serr != nil {
			m.log(ctx).Warn("idempotency store failed", zap.Error(serr))
		}
	}
	return desc, nil
}

// saveSucceeded applies a save result. When the draft changed during the
// save only the persisted identity is taken over, and the saved key is
// locked again even if the user picked another one meanwhile.
func (s *Session) saveSucceeded(saved model.DomainDesign, stale bool) {
	if !stale {
		s.draft = draftFromDesign(saved)
		clear(s.serverErrs)
		return
	}
	s.draft.ID = saved.ID
	s.draft.Version = saved.Version
	keyName, keyType := schema.KeyWire(s.draft.Fields)
	if keyType == saved.KeyType && keyName == saved.KeyName {
		s.draft.Fields = schema.LockKey(s.draft.Fields)
		return
	}
	s.draft.Fields = schema.RestoreKey(s.draft.Fields, saved)
}

// saveFailed records a failed save on s. Validation errors are mapped onto
// panels, which are marked visited so they show as TODO. Errors that refer
// to a draft the user has since changed are only reported, not mapped.
func (m *Manager) saveFailed(ctx context.Context, s *Session, err error, stale bool) *model.ErrorEnvelope {
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) {
		m.log(ctx).Error("domain save failed", zap.String("session_id", s.id), zap.Error(err))
		env = model.NewStoreUnavailableError()
	} else {
		m.log(ctx).Warn("domain save rejected",
			zap.String("session_id", s.id),
			zap.String("code", env.Code),
			zap.Int("details", len(env.Details)),
		)
	}
	s.lastError = env

	if env.Code == model.ErrValidationError && !stale {
		s.serverErrs = mapServerErrors(s.def, env.Details)
		visited := make([]int, 0, len(s.serverErrs))
		for i := range s.serverErrs {
			visited = append(visited, i)
		}
		slices.Sort(visited)
		s.state = s.state.MarkVisited(visited...)
	}
	return env
}

// Close unmounts the session. A submit still in flight completes against
// the store but its result is discarded.
func (m *Manager) Close(ctx context.Context, rctx *model.RequestContext, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.ownedBy(rctx) {
		m.mu.Unlock()
		return model.NewSessionNotFoundError(sessionID)
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	inFlight := s.state.Submitting
	s.mu.Unlock()

	m.metrics.RecordSessionClosed(s.def.Kind, "closed")
	m.log(ctx).Info("designer session closed",
		zap.String("session_id", sessionID),
		zap.Bool("submit_in_flight", inFlight),
	)
	return nil
}

// SweepIdle closes sessions unused for longer than the idle timeout. A
// session with a submit in flight is kept. It returns the number closed.
func (m *Manager) SweepIdle(ctx context.Context) int {
	cutoff := m.now().Add(-m.idleTimeout)
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.Lock()
		if !s.state.Submitting && s.lastUsed.Before(cutoff) {
			s.closed = true
			delete(m.sessions, id)
			expired = append(expired, s)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.metrics.RecordSessionClosed(s.def.Kind, "idle")
	}
	if len(expired) > 0 {
		m.log(ctx).Info("idle designer sessions closed", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// session looks up a session the caller owns. Sessions of other subjects
// are reported as not found.
func (m *Manager) session(rctx *model.RequestContext, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || !s.ownedBy(rctx) {
		return nil, model.NewSessionNotFoundError(id)
	}
	return s, nil
}

// update runs fn under the session lock and returns the fresh descriptor.
func (m *Manager) update(_ context.Context, rctx *model.RequestContext, sessionID string, fn func(*Session) error) (model.DesignerDescriptor, error) {
	s, err := m.session(rctx, sessionID)
	if err != nil {
		return model.DesignerDescriptor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.DesignerDescriptor{}, model.NewSessionClosedError(sessionID)
	}
	s.lastUsed = m.now()
	if err := fn(s); err != nil {
		return model.DesignerDescriptor{}, err
	}
	return s.descriptor(), nil
}

func (m *Manager) logRejected(ctx context.Context, sessionID, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("session_id", sessionID), zap.Error(err))
	var env *model.ErrorEnvelope
	if errors.As(err, &env) && env.Code == model.ErrKeyLocked {
		m.log(ctx).Warn(msg, fields...)
		return
	}
	m.log(ctx).Debug(msg, fields...)
}

// storeError passes store envelopes through and hides anything else behind
// STORE_UNAVAILABLE.
func (m *Manager) storeError(ctx context.Context, op string, err error) error {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}
	m.log(ctx).Error("domain store failed", zap.String("op", op), zap.Error(err))
	return model.NewStoreUnavailableError()
}

// ownerHash identifies the session an idempotency key was first used by.
func ownerHash(rctx *model.RequestContext, sessionID string) string {
	sum := sha256.Sum256([]byte(rctx.TenantID + "\x00" + rctx.SubjectID + "\x00" + sessionID))
	return hex.EncodeToString(sum[:])
}

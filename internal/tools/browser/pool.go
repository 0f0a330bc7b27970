// Package browser owns the pool of stateful browser sessions used by
// automation tools, and the tools themselves.
//
// A session is owned by the Pool and borrowed by one tool call at a time:
// Borrow acquires the session's lock, refreshes its activity timestamp and
// hands the caller a Handle that is valid only until the callback returns.
// Navigation through a Handle is checked against the egress policy before
// the underlying page is touched.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/gridiron/internal/backoff"
	"github.com/haasonsaas/gridiron/internal/net/egress"
	"github.com/haasonsaas/gridiron/pkg/models"
)

var (
	ErrPoolClosed      = errors.New("browser session pool is closed")
	ErrPoolFull        = errors.New("browser session pool is full")
	ErrSessionNotFound = errors.New("browser session not found")
	ErrHandleReleased  = errors.New("browser session handle used after release")
)

// Config configures the session pool.
type Config struct {
	// MaxSessions bounds live sessions. Default: 5.
	MaxSessions int
	// IdleTimeout is the default idle age for Sweep. Default: 30 minutes.
	IdleTimeout time.Duration
	// ActionTimeout bounds page actions without an explicit timeout. Default: 30 seconds.
	ActionTimeout time.Duration
	// AllowedDomains is the navigation allow-list.
	AllowedDomains []string
	// ActionsPerSecond paces actions per session; zero disables pacing.
	ActionsPerSecond float64
	// MinActionDelay and MaxActionDelay add a random pause before each action.
	MinActionDelay time.Duration
	MaxActionDelay time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:      5,
		IdleTimeout:      30 * time.Minute,
		ActionTimeout:    30 * time.Second,
		AllowedDomains:   egress.DefaultAllowedDomains,
		ActionsPerSecond: 4,
		MinActionDelay:   50 * time.Millisecond,
		MaxActionDelay:   150 * time.Millisecond,
	}
}

// Observer receives pool gauge and counter updates.
type Observer interface {
	SessionsActive(n int)
	SessionsClosed(reason string, n int)
}

type sessionState int

const (
	stateCreating sessionState = iota
	stateActive
	stateClosed
)

type session struct {
	record  models.AutomationSession
	state   sessionState
	page    Page
	lock    chan struct{}
	limiter *rate.Limiter
}

// Pool owns browser sessions. It is safe for concurrent use: mu guards
// the session maps, and each session's lock serializes work on its page.
type Pool struct {
	config   Config
	driver   Driver
	policy   *egress.Policy
	records  RecordStore
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	pause    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	sessions map[string]*session
	byOwner  map[string]string
	closed   bool
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRecordStore persists session records.
func WithRecordStore(store RecordStore) Option {
	return func(p *Pool) { p.records = store }
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// NewPool creates a pool over driver. Zero size and timeout fields and a nil
// allow-list take defaults; pacing fields are used as given. A non-nil empty
// allow-list blocks every navigation.
func NewPool(driver Driver, config Config, opts ...Option) *Pool {
	defaults := DefaultConfig()
	if config.AllowedDomains == nil {
		config.AllowedDomains = slices.Clone(egress.DefaultAllowedDomains)
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = defaults.MaxSessions
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = defaults.ActionTimeout
	}
	if config.MaxActionDelay < config.MinActionDelay {
		config.MaxActionDelay = config.MinActionDelay
	}
	p := &Pool{
		config:   config,
		driver:   driver,
		policy:   egress.NewPolicy(config.AllowedDomains),
		logger:   slog.Default(),
		now:      time.Now,
		pause:    backoff.Sleep,
		sessions: make(map[string]*session),
		byOwner:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "browser_pool")
	return p
}

// Policy returns the navigation policy.
func (p *Pool) Policy() *egress.Policy {
	return p.policy
}

// Create starts a session for owner and returns its id. An owner with a
// live session gets that session back.
func (p *Pool) Create(ctx context.Context, ownerID string) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", errors.New("owner ID is required")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPoolClosed
	}
	if id, ok := p.byOwner[ownerID]; ok {
		if s := p.sessions[id]; s != nil && s.state != stateClosed {
			s.record.LastActivityAt = p.now()
			p.mu.Unlock()
			return id, nil
		}
	}
	if len(p.sessions) >= p.config.MaxSessions {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %d sessions open", ErrPoolFull, p.config.MaxSessions)
	}

	now := p.now()
	s := &session{
		record: models.AutomationSession{
			SessionID:      uuid.NewString(),
			OwnerID:        ownerID,
			CreatedAt:      now,
			LastActivityAt: now,
		},
		state:   stateCreating,
		lock:    make(chan struct{}, 1),
		limiter: p.newLimiter(),
	}
	id := s.record.SessionID
	// Held until the page exists so borrowers wait for creation.
	s.lock <- struct{}{}
	p.sessions[id] = s
	p.byOwner[ownerID] = id
	p.mu.Unlock()

	page, err := p.driver.NewPage(ctx, ownerID)

	p.mu.Lock()
	if err != nil {
		p.removeLocked(s)
		s.state = stateClosed
		p.mu.Unlock()
		<-s.lock
		return "", fmt.Errorf("failed to create browser session: %w", err)
	}
	s.page = page
	if s.state == stateClosed {
		// Closed during creation; the closer is waiting on the lock and
		// will close the page.
		p.mu.Unlock()
		<-s.lock
		return "", ErrPoolClosed
	}
	s.state = stateActive
	s.record.IsActive = true
	rec := s.record
	active := p.activeLocked()
	p.mu.Unlock()
	<-s.lock

	p.persist(ctx, rec)
	if p.observer != nil {
		p.observer.SessionsActive(active)
	}
	p.logger.Info("browser session created", "session_id", id, "owner_id", ownerID)
	return id, nil
}

// Get returns a snapshot of a live session record.
func (p *Pool) Get(sessionID string) (models.AutomationSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok || s.state != stateActive {
		return models.AutomationSession{}, false
	}
	return s.record, true
}

// SessionFor returns the live session id for an owner.
func (p *Pool) SessionFor(ownerID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byOwner[ownerID]
	if !ok {
		return "", false
	}
	if s := p.sessions[id]; s == nil || s.state != stateActive {
		return "", false
	}
	return id, true
}

// Borrow runs fn with exclusive use of a session. The wait for the
// session is cancellable through ctx; fn itself is not interrupted.
func (p *Pool) Borrow(ctx context.Context, sessionID string, fn func(*Handle) error) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.lock }()

	p.mu.Lock()
	if s.state != stateActive {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.record.LastActivityAt = p.now()
	p.mu.Unlock()

	h := &Handle{pool: p, s: s}
	err := fn(h)
	h.released.Store(true)

	url := s.page.URL()
	p.mu.Lock()
	s.record.LastActivityAt = p.now()
	s.record.CurrentURL = url
	rec := s.record
	p.mu.Unlock()
	p.persist(ctx, rec)
	return err
}

// Close closes a session, waiting for an in-flight borrow to finish.
func (p *Pool) Close(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.state = stateClosed
	p.removeLocked(s)
	active := p.activeLocked()
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.SessionsActive(active)
		p.observer.SessionsClosed("explicit", 1)
	}
	return p.finalize(ctx, s)
}

// Sweep closes sessions idle for at least idleTimeout (the configured
// default when zero) and deletes stale records left by earlier processes.
// Sessions currently borrowed are never swept. It returns how many
// sessions were closed.
func (p *Pool) Sweep(ctx context.Context, idleTimeout time.Duration) (int, error) {
	if idleTimeout <= 0 {
		idleTimeout = p.config.IdleTimeout
	}
	now := p.now()

	var victims []*session
	p.mu.Lock()
	for _, s := range p.sessions {
		if s.state != stateActive || s.record.IdleFor(now) < idleTimeout {
			continue
		}
		select {
		case s.lock <- struct{}{}:
		default:
			continue // borrowed right now
		}
		s.state = stateClosed
		p.removeLocked(s)
		victims = append(victims, s)
	}
	active := p.activeLocked()
	p.mu.Unlock()

	for _, s := range victims {
		p.closePage(ctx, s)
		<-s.lock
		p.logger.Info("browser session expired",
			"session_id", s.record.SessionID,
			"owner_id", s.record.OwnerID,
			"idle_minutes", int(s.record.IdleFor(now).Minutes()),
		)
	}
	closed := len(victims)

	if p.records != nil {
		orphans, err := p.sweepRecords(ctx, now, idleTimeout)
		if err != nil {
			return closed, err
		}
		closed += orphans
	}

	if p.observer != nil {
		p.observer.SessionsActive(active)
		if closed > 0 {
			p.observer.SessionsClosed("idle", closed)
		}
	}
	return closed, nil
}

func (p *Pool) sweepRecords(ctx context.Context, now time.Time, idleTimeout time.Duration) (int, error) {
	recs, err := p.records.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list session records: %w", err)
	}
	removed := 0
	for _, rec := range recs {
		p.mu.Lock()
		_, live := p.sessions[rec.SessionID]
		p.mu.Unlock()
		if live || rec.IdleFor(now) < idleTimeout {
			continue
		}
		if err := p.records.Delete(ctx, rec.SessionID); err != nil {
			return removed, fmt.Errorf("delete session record: %w", err)
		}
		removed++
	}
	return removed, nil
}

// List returns live sessions, oldest first.
func (p *Pool) List() []models.AutomationSession {
	p.mu.Lock()
	out := make([]models.AutomationSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		if s.state == stateActive {
			out = append(out, s.record)
		}
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Status describes one live session.
type Status struct {
	models.AutomationSession
	AgeMinutes  float64 `json:"age_minutes"`
	IdleMinutes float64 `json:"idle_minutes"`
	InUse       bool    `json:"in_use"`
}

// Status returns details for a live session.
func (p *Pool) Status(sessionID string) (*Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok || s.state != stateActive {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	now := p.now()
	return &Status{
		AutomationSession: s.record,
		AgeMinutes:        s.record.Age(now).Minutes(),
		IdleMinutes:       s.record.IdleFor(now).Minutes(),
		InUse:             len(s.lock) > 0,
	}, nil
}

// Stats contains pool statistics.
type Stats struct {
	MaxSessions    int  `json:"max_sessions"`
	ActiveSessions int  `json:"active_sessions"`
	Closed         bool `json:"closed"`
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxSessions:    p.config.MaxSessions,
		ActiveSessions: p.activeLocked(),
		Closed:         p.closed,
	}
}

// Shutdown closes every session and the driver. The pool rejects new
// sessions afterwards.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	all := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		s.state = stateClosed
		all = append(all, s)
	}
	p.sessions = make(map[string]*session)
	p.byOwner = make(map[string]string)
	p.mu.Unlock()

	var errs []error
	for _, s := range all {
		if err := p.finalize(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	if p.observer != nil {
		p.observer.SessionsActive(0)
		if len(all) > 0 {
			p.observer.SessionsClosed("shutdown", len(all))
		}
	}
	if p.driver != nil {
		if err := p.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close driver: %w", err))
		}
	}
	return errors.Join(errs...)
}

// finalize waits for exclusive use of a removed session, closes its page
// and releases the lock so waiting borrowers see it closed.
func (p *Pool) finalize(ctx context.Context, s *session) error {
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		go func() {
			s.lock <- struct{}{}
			p.closePage(context.WithoutCancel(ctx), s)
			<-s.lock
		}()
		return ctx.Err()
	}
	p.closePage(ctx, s)
	<-s.lock
	return nil
}

// closePage must be called with the session lock held.
func (p *Pool) closePage(ctx context.Context, s *session) {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			p.logger.Warn("failed to close browser page", "session_id", s.record.SessionID, "error", err)
		}
	}
	if p.records != nil {
		if err := p.records.Delete(ctx, s.record.SessionID); err != nil {
			p.logger.Warn("failed to delete session record", "session_id", s.record.SessionID, "error", err)
		}
	}
}

func (p *Pool) removeLocked(s *session) {
	delete(p.sessions, s.record.SessionID)
	if p.byOwner[s.record.OwnerID] == s.record.SessionID {
		delete(p.byOwner, s.record.OwnerID)
	}
}

func (p *Pool) activeLocked() int {
	n := 0
	for _, s := range p.sessions {
		if s.state == stateActive {
			n++
		}
	}
	return n
}

func (p *Pool) persist(ctx context.Context, rec models.AutomationSession) {
	if p.records == nil {
		return
	}
	if err := p.records.Put(ctx, rec); err != nil {
		p.logger.Warn("failed to persist session record", "session_id", rec.SessionID, "error", err)
	}
}

func (p *Pool) newLimiter() *rate.Limiter {
	if p.config.ActionsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(p.config.ActionsPerSecond), 1)
}

// actionDelay returns a random pause in [MinActionDelay, MaxActionDelay].
func (p *Pool) actionDelay() time.Duration {
	lo, hi := p.config.MinActionDelay, p.config.MaxActionDelay
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Package service is the operator facade: it holds the current remote session,
// lets one operation use it at a time, runs exports and deployments on worker
// goroutines and records their outcome in the job ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"analysisops/internal/config"
	"analysisops/internal/deploy"
	"analysisops/internal/events"
	"analysisops/internal/query"
	"analysisops/internal/schema"
	"analysisops/internal/store"
	"analysisops/internal/transport"
)

const opSession = "session"

// ErrBusy is returned when another operation is using the session.
var ErrBusy = errors.New("session busy: another operation is in progress")

// Session is what the facade needs from a connected transport.
// *transport.Session satisfies it.
type Session interface {
	query.Executor
	deploy.Remote
	Target() transport.Target
	State() (transport.State, string)
	Close() error
}

// DialFunc opens a session.
type DialFunc func(ctx context.Context, target transport.Target, opts transport.Options, emit events.Emitter) (Session, error)

// JobStore persists job outcomes. *store.Repo satisfies it.
type JobStore interface {
	InsertJob(ctx context.Context, j store.Job) error
	FinishJob(ctx context.Context, id, status string, rows, bytes int64, errMsg string, at time.Time) error
	QueryJobs(ctx context.Context, kind string, limit int) ([]store.Job, error)
}

func dialTransport(ctx context.Context, target transport.Target, opts transport.Options, emit events.Emitter) (Session, error) {
	s, err := transport.Dial(ctx, target, opts, emit)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Service is safe for concurrent use.
type Service struct {
	cfg     config.Config
	mapping *schema.FieldMapping
	topo    *schema.Topology
	jobs    JobStore
	events  *events.Reporter
	dial    DialFunc
	now     func() time.Time

	op sync.Mutex // held by the operation using the session

	mu   sync.Mutex
	sess Session

	workers sync.WaitGroup
	closers []func() error
}

// Option configures a Service.
type Option func(*Service)

// WithDialer replaces the SSH dialer.
func WithDialer(d DialFunc) Option {
	return func(s *Service) {
		s.dial = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithJobStore enables the job ledger.
func WithJobStore(j JobStore) Option {
	return func(s *Service) {
		s.jobs = j
	}
}

// New creates a service. mapping and topo are shared read-only.
func New(cfg config.Config, mapping *schema.FieldMapping, topo *schema.Topology, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		mapping: mapping,
		topo:    topo,
		events:  events.NewReporter(cfg.Events.Buffer, cfg.Events.History),
		dial:    dialTransport,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Events returns the reporter all operations log to.
func (s *Service) Events() *events.Reporter {
	return s.events
}

// acquire claims the session for one operation.
func (s *Service) acquire() error {
	if !s.op.TryLock() {
		return ErrBusy
	}
	return nil
}

func (s *Service) release() {
	s.op.Unlock()
}

func (s *Service) session() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, transport.ErrNotConnected
	}
	return s.sess, nil
}

// =============================================================================
// SESSION
// =============================================================================

// SessionInfo describes the current session.
type SessionInfo struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	Target string `json:"target,omitempty"`
}

// Connect opens a session to target. Only once it is established is the
// previous session closed; a failed connect leaves the current one in place.
func (s *Service) Connect(ctx context.Context, target transport.Target) (SessionInfo, error) {
	if err := s.acquire(); err != nil {
		return SessionInfo{}, err
	}
	defer s.release()

	s.events.Logf(opSession, "connecting to %s", target)
	sess, err := s.dial(ctx, target, transport.OptionsFromConfig(s.cfg.SSH), s.events)
	if err != nil {
		s.events.Warnf(opSession, "connect to %s failed: %v", target, err)
		return SessionInfo{State: transport.StateFailed.String(), Reason: err.Error(), Target: target.String()}, err
	}

	s.mu.Lock()
	prev := s.sess
	s.sess = sess
	s.mu.Unlock()
	if prev != nil {
		s.events.Logf(opSession, "disconnecting from %s", prev.Target())
		if err := prev.Close(); err != nil {
			s.events.Warnf(opSession, "closing %s: %v", prev.Target(), err)
		}
	}
	s.events.Logf(opSession, "connected to %s", target)
	return s.Info(), nil
}

// Disconnect closes the current session. It is a no-op without one.
func (s *Service) Disconnect() error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	return s.closeSession()
}

func (s *Service) closeSession() error {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	s.events.Logf(opSession, "disconnecting from %s", sess.Target())
	return sess.Close()
}

// Info reports the session state without touching the network.
func (s *Service) Info() SessionInfo {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return SessionInfo{State: transport.StateDisconnected.String()}
	}
	st, reason := sess.State()
	return SessionInfo{State: st.String(), Reason: reason, Target: sess.Target().String()}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) engine(sess Session) *query.Engine {
	return query.NewEngine(sess, s.mapping, s.topo, s.cfg.Query, s.events)
}

// ExecuteQuery runs an interactive query.
func (s *Service) ExecuteQuery(ctx context.Context, req query.Request) (*query.Result, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return s.engine(sess).Execute(ctx, req)
}

// TableInfo summarises the remote database.
func (s *Service) TableInfo(ctx context.Context, dbPath string) (*query.TableInfo, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return s.engine(sess).TableInfo(ctx, dbPath)
}

// =============================================================================
// STATUS
// =============================================================================

func (s *Service) orchestrator(sess Session) *deploy.Orchestrator {
	return deploy.New(sess, s.cfg.Deploy, s.events)
}

// CheckDeployStatus recomputes the installation status.
func (s *Service) CheckDeployStatus(ctx context.Context) (deploy.Status, error) {
	if err := s.acquire(); err != nil {
		return deploy.Status{}, err
	}
	defer s.release()

	sess, err := s.session()
	if err != nil {
		return deploy.Status{}, err
	}
	return s.orchestrator(sess).CheckStatus(ctx), nil
}

// History lists recorded jobs, newest first.
func (s *Service) History(ctx context.Context, kind string, limit int) ([]store.Job, error) {
	if s.jobs == nil {
		return []store.Job{}, nil
	}
	return s.jobs.QueryJobs(ctx, kind, limit)
}

// Close waits for running workers, closes the session and stops the reporter.
func (s *Service) Close() error {
	s.workers.Wait()
	s.op.Lock()
	err := s.closeSession()
	s.op.Unlock()
	s.events.Close()
	if err != nil {
		err = fmt.Errorf("close session: %w", err)
	}
	for _, c := range s.closers {
		err = errors.Join(err, c())
	}
	s.closers = nil
	return err
}

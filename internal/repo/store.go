package repo

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"rikapay/apps/gateway/internal/domain"
)

var ErrStoreClosed = errors.New("session store is closed")

// SessionStore owns every conversation. Implementations isolate sessions
// from one another and never hand out references to their internal slices.
type SessionStore interface {
	Get(ctx context.Context, id string) (domain.Session, bool, error)
	// Append creates the session when it does not exist yet, appends turns in
	// order and replaces the session state, all in one step.
	Append(ctx context.Context, id string, state domain.SessionState, turns ...domain.Turn) (domain.Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

type State struct {
	Sessions map[string]domain.Session `json:"sessions"`
}

type MemoryOptions struct {
	// DataDir enables a sessions.json snapshot that survives restarts. Empty disables it.
	DataDir string
	TTL     time.Duration
	// JanitorInterval defaults to TTL/4 with a one second floor.
	JanitorInterval time.Duration
	Logger          *zap.Logger
	Now             func() time.Time
}

// Store is the in-process SessionStore. Idle sessions are evicted by a
// janitor goroutine once TTL has elapsed since their last update.
type Store struct {
	mu        sync.RWMutex
	state     State
	stateFile string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func NewStore(opts MemoryOptions) (*Store, error) {
	s := &Store{
		state:  State{Sessions: map[string]domain.Session{}},
		ttl:    opts.TTL,
		now:    opts.Now,
		logger: opts.Logger,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			return nil, err
		}
		s.stateFile = filepath.Join(opts.DataDir, "sessions.json")
		if err := s.load(); err != nil {
			return nil, err
		}
	}

	if s.ttl > 0 {
		interval := opts.JanitorInterval
		if interval <= 0 {
			interval = s.ttl / 4
		}
		if interval < time.Second {
			interval = time.Second
		}
		go s.janitor(interval)
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return s.saveLocked()
	}
	if err != nil {
		return err
	}
	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return err
	}
	if state.Sessions == nil {
		state.Sessions = map[string]domain.Session{}
	}
	s.state = state
	return nil
}

func (s *Store) saveLocked() error {
	if s.stateFile == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.stateFile, b, 0o644)
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Store) Get(_ context.Context, id string) (domain.Session, bool, error) {
	if s.isClosed() {
		return domain.Session{}, false, ErrStoreClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.state.Sessions[id]
	if !ok || s.expired(sess) {
		return domain.Session{}, false, nil
	}
	return cloneSession(sess), true, nil
}

func (s *Store) Append(_ context.Context, id string, state domain.SessionState, turns ...domain.Turn) (domain.Session, error) {
	if s.isClosed() {
		return domain.Session{}, ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sess, ok := s.state.Sessions[id]
	if !ok || s.expired(sess) {
		sess = domain.Session{ID: id, CreatedAt: now, State: domain.SessionState{Status: domain.SessionIdle}}
	}
	sess = cloneSession(sess)
	sess.Turns = append(sess.Turns, turns...)
	sess.State = cloneState(state)
	sess.UpdatedAt = now
	s.state.Sessions[id] = sess

	if err := s.saveLocked(); err != nil {
		return domain.Session{}, err
	}
	return cloneSession(sess), nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	if s.isClosed() {
		return false, ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Sessions[id]; !ok {
		return false, nil
	}
	delete(s.state.Sessions, id)
	return true, s.saveLocked()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.state.Sessions {
		if !s.expired(sess) {
			n++
		}
	}
	return n
}

// EvictExpired drops sessions idle for longer than the TTL and returns how many were removed.
func (s *Store) EvictExpired() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.state.Sessions {
		if s.expired(sess) {
			delete(s.state.Sessions, id)
			removed++
		}
	}
	if removed > 0 {
		if err := s.saveLocked(); err != nil {
			s.logger.Warn("persist sessions after eviction failed", zap.Error(err))
		}
	}
	return removed
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	<-s.done
	return nil
}

func (s *Store) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if n := s.EvictExpired(); n > 0 {
				s.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *Store) expired(sess domain.Session) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().Sub(sess.UpdatedAt) > s.ttl
}

func cloneSession(in domain.Session) domain.Session {
	out := in
	out.Turns = append([]domain.Turn(nil), in.Turns...)
	out.State = cloneState(in.State)
	return out
}

func cloneState(in domain.SessionState) domain.SessionState {
	out := in
	out.Missing = append([]string(nil), in.Missing...)
	return out
}

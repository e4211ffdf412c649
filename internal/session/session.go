// Package session keeps the per-user backtest context (symbol, strategy,
// cash, fee) that the presentation layer edits between runs.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amirphl/quant-terminal/internal/backtest"
	"github.com/amirphl/quant-terminal/internal/strategy"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrInvalidSession = errors.New("invalid session")
)

const maxRunHistory = 50

// Session is the explicit context handed to every run started from the UI.
type Session struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Strategy  strategy.Kind   `json:"strategy"`
	Params    strategy.Params `json:"params"`
	Lookback  string          `json:"lookback"`
	Timeframe string          `json:"timeframe"`
	Cash      float64         `json:"cash"`
	FeeRate   float64         `json:"fee_rate"`
	Runs      []string        `json:"runs"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Request builds the backtest request described by the session.
func (s Session) Request() backtest.Request {
	return backtest.Request{
		Symbol:      s.Symbol,
		Strategy:    s.Strategy,
		Params:      s.Params,
		Lookback:    s.Lookback,
		Timeframe:   s.Timeframe,
		InitialCash: s.Cash,
		FeeRate:     s.FeeRate,
	}
}

// Update is a partial change; nil fields are left alone.
type Update struct {
	Symbol    *string          `json:"symbol,omitempty"`
	Strategy  *string          `json:"strategy,omitempty"`
	Params    *strategy.Params `json:"params,omitempty"`
	Lookback  *string          `json:"lookback,omitempty"`
	Timeframe *string          `json:"timeframe,omitempty"`
	Cash      *float64         `json:"cash,omitempty"`
	FeeRate   *float64         `json:"fee_rate,omitempty"`
}

// Defaults seed new sessions.
type Defaults struct {
	Strategy  strategy.Kind
	Lookback  string
	Timeframe string
	Cash      float64
	FeeRate   float64
}

// Store owns all sessions of a process.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	defaults Defaults
	now      func() time.Time
}

func NewStore(defaults Defaults) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create starts a session for symbol, applies u on top of the defaults and
// validates the result.
func (st *Store) Create(symbol string, u Update) (Session, error) {
	now := st.now()
	s := Session{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Strategy:  st.defaults.Strategy,
		Lookback:  st.defaults.Lookback,
		Timeframe: st.defaults.Timeframe,
		Cash:      st.defaults.Cash,
		FeeRate:   st.defaults.FeeRate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := apply(&s, u); err != nil {
		return Session{}, err
	}
	if err := validate(s); err != nil {
		return Session{}, err
	}

	st.mu.Lock()
	st.sessions[s.ID] = &s
	st.mu.Unlock()
	return copySession(&s), nil
}

func (st *Store) Get(id string) (Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copySession(s), nil
}

// Update applies u atomically. Nothing changes when the result is invalid.
func (st *Store) Update(id string, u Update) (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	cur, ok := st.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := copySession(cur)
	if err := apply(&next, u); err != nil {
		return Session{}, err
	}
	if err := validate(next); err != nil {
		return Session{}, err
	}
	next.UpdatedAt = st.now()
	st.sessions[id] = &next
	return copySession(&next), nil
}

// AddRun appends a run ID to the session history, keeping the newest runs.
func (st *Store) AddRun(id, runID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Runs = append(s.Runs, runID)
	if len(s.Runs) > maxRunHistory {
		s.Runs = append([]string(nil), s.Runs[len(s.Runs)-maxRunHistory:]...)
	}
	s.UpdatedAt = st.now()
	return nil
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

func apply(s *Session, u Update) error {
	if u.Symbol != nil {
		s.Symbol = *u.Symbol
	}
	if u.Strategy != nil {
		kind, err := strategy.ParseKind(*u.Strategy)
		if err != nil {
			return err
		}
		if kind != s.Strategy {
			s.Params = strategy.Params{}
		}
		s.Strategy = kind
	}
	if u.Params != nil {
		s.Params = *u.Params
	}
	if u.Lookback != nil {
		s.Lookback = *u.Lookback
	}
	if u.Timeframe != nil {
		s.Timeframe = *u.Timeframe
	}
	if u.Cash != nil {
		s.Cash = *u.Cash
	}
	if u.FeeRate != nil {
		s.FeeRate = *u.FeeRate
	}
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	return nil
}

func validate(s Session) error {
	if err := s.Request().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if _, err := strategy.New(s.Strategy, s.Params); err != nil {
		return err
	}
	return nil
}

func copySession(s *Session) Session {
	out := *s
	out.Runs = append([]string(nil), s.Runs...)
	return out
}

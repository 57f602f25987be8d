package importer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
)

// State is the phase an import run is in after its last unit of work.
type State string

const (
	StateFetchingType  State = "fetching_type"
	StateAwaitingRetry State = "awaiting_retry"
	StateAdvancingType State = "advancing_type"
	StateComplete      State = "complete"
	StateFailed        State = "failed"
)

// Terminal reports whether no further work happens in this state.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

type FSM struct {
	mu          sync.Mutex
	Transitions map[State]map[State]struct{}

	current State
	logger  *zap.Logger
}

type FSMOption func(*FSM)

func FSMWithLogger(logger *zap.Logger) FSMOption {
	return func(f *FSM) {
		f.logger = logger
	}
}

func FSMWithInitialState(state State) FSMOption {
	return func(f *FSM) {
		f.current = state
	}
}

func NewFSM(opts ...FSMOption) *FSM {
	f := &FSM{
		current: StateFetchingType,
		logger:  zap.NewNop(),

		Transitions: map[State]map[State]struct{}{
			// complete only when the entity type list is empty
			StateFetchingType: {
				StateFetchingType:  {},
				StateAwaitingRetry: {},
				StateAdvancingType: {},
				StateComplete:      {},
				StateFailed:        {},
			},
			// a retry always targets a type that is still pending
			StateAwaitingRetry: {
				StateFetchingType:  {},
				StateAwaitingRetry: {},
				StateAdvancingType: {},
				StateFailed:        {},
			},
			// retries carry over a type boundary, so the first fetch of the
			// next type may already exhaust them
			StateAdvancingType: {
				StateFetchingType:  {},
				StateAwaitingRetry: {},
				StateAdvancingType: {},
				StateComplete:      {},
				StateFailed:        {},
			},
			StateComplete: {},
			StateFailed:   {},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FSM) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FSM) canTransition(to State) bool {
	if _, ok := f.Transitions[f.current][to]; ok {
		return true
	}
	return false
}

func (f *FSM) Transition(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.canTransition(to) {
		f.logger.Error("Invalid state transition",
			zap.String("current", string(f.current)),
			zap.String("to", string(to)),
		)
		return ErrInvalidTransition
	}
	previous := f.current
	f.current = to

	f.logger.Debug("State transitioned",
		zap.String("state", string(f.current)),
		zap.String("from", string(previous)),
	)
	return nil
}

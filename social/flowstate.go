package social

import (
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/session"
)

// FlowState is what Start remembers until the provider redirects back.
type FlowState struct {
	Provider     session.Provider
	CodeVerifier string
	Nonce        string
	CreatedAt    time.Time
}

type FlowStateRepo interface {
	Upsert(state string, flowState *FlowState) error
	Get(state string) (*FlowState, error)
	Delete(state string) error
}

// InMemoryFlowStateRepo is a thread-safe in-memory FlowStateRepo.
type InMemoryFlowStateRepo struct {
	mu     sync.RWMutex
	states map[string]FlowState
}

func NewInMemoryFlowStateRepo() *InMemoryFlowStateRepo {
	return &InMemoryFlowStateRepo{
		states: make(map[string]FlowState),
	}
}

func (r *InMemoryFlowStateRepo) Upsert(state string, flowState *FlowState) error {
	if state == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidState, "state cannot be empty")
	}
	if flowState == nil {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "flow state cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state] = *flowState
	return nil
}

func (r *InMemoryFlowStateRepo) Get(state string) (*FlowState, error) {
	if state == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidState, "state cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	flowState, ok := r.states[state]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "flow state")
	}
	return &flowState, nil
}

func (r *InMemoryFlowStateRepo) Delete(state string) error {
	if state == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidState, "state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, state)
	return nil
}

// Package flow defines state management interfaces for stateful flows.
package flow

import (
	"context"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// StateManager defines the interface for managing flow state.
type StateManager interface {
	// GetCurrentState retrieves the current state for a phone in a flow.
	// An empty state means no session exists.
	GetCurrentState(ctx context.Context, phone string, flowType models.FlowType) (models.StateType, error)

	// SetCurrentState updates the current state for a phone in a flow
	SetCurrentState(ctx context.Context, phone string, flowType models.FlowType, state models.StateType) error

	// GetStateData retrieves additional data associated with the phone's state
	GetStateData(ctx context.Context, phone string, flowType models.FlowType, key models.DataKey) (string, error)

	// SetStateData stores additional data associated with the phone's state
	SetStateData(ctx context.Context, phone string, flowType models.FlowType, key models.DataKey, value string) error

	// TransitionState moves to toState, failing if the current state is not fromState
	TransitionState(ctx context.Context, phone string, flowType models.FlowType, fromState, toState models.StateType) error

	// ResetState removes all state data for a phone in a flow
	ResetState(ctx context.Context, phone string, flowType models.FlowType) error
}

// Package flow provides concrete implementations of state management.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/store"
)

// StoreBasedStateManager implements StateManager using a FlowStateStore backend.
type StoreBasedStateManager struct {
	store store.FlowStateStore
}

var _ StateManager = (*StoreBasedStateManager)(nil)

// NewStoreBasedStateManager creates a new StateManager backed by a FlowStateStore.
func NewStoreBasedStateManager(st store.FlowStateStore) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// GetCurrentState retrieves the current state for a phone in a flow.
func (sm *StoreBasedStateManager) GetCurrentState(ctx context.Context, phone string, flowType models.FlowType) (models.StateType, error) {
	flowState, err := sm.store.GetFlowState(ctx, phone, flowType)
	if err != nil {
		slog.Error("StateManager GetCurrentState error", "error", err, "phone", phone, "flowType", flowType)
		return "", err
	}
	if flowState == nil {
		return "", nil
	}
	slog.Debug("StateManager GetCurrentState found", "phone", phone, "flowType", flowType, "state", flowState.CurrentState)
	return flowState.CurrentState, nil
}

// load returns the existing flow state or a fresh one.
func (sm *StoreBasedStateManager) load(ctx context.Context, phone string, flowType models.FlowType) (*models.FlowState, error) {
	flowState, err := sm.store.GetFlowState(ctx, phone, flowType)
	if err != nil {
		return nil, err
	}
	if flowState == nil {
		now := time.Now()
		flowState = &models.FlowState{
			Phone:     phone,
			FlowType:  flowType,
			StateData: make(map[models.DataKey]string),
			CreatedAt: now,
		}
	}
	if flowState.StateData == nil {
		flowState.StateData = make(map[models.DataKey]string)
	}
	flowState.UpdatedAt = time.Now()
	return flowState, nil
}

// SetCurrentState updates the current state for a phone in a flow.
func (sm *StoreBasedStateManager) SetCurrentState(ctx context.Context, phone string, flowType models.FlowType, state models.StateType) error {
	flowState, err := sm.load(ctx, phone, flowType)
	if err != nil {
		slog.Error("StateManager SetCurrentState get error", "error", err, "phone", phone, "flowType", flowType)
		return err
	}
	flowState.CurrentState = state
	if err := sm.store.SaveFlowState(ctx, *flowState); err != nil {
		slog.Error("StateManager SetCurrentState save error", "error", err, "phone", phone, "flowType", flowType, "state", state)
		return err
	}
	slog.Debug("StateManager SetCurrentState succeeded", "phone", phone, "flowType", flowType, "state", state)
	return nil
}

// GetStateData retrieves additional data associated with the phone's state.
func (sm *StoreBasedStateManager) GetStateData(ctx context.Context, phone string, flowType models.FlowType, key models.DataKey) (string, error) {
	flowState, err := sm.store.GetFlowState(ctx, phone, flowType)
	if err != nil {
		slog.Error("StateManager GetStateData error", "error", err, "phone", phone, "flowType", flowType, "key", key)
		return "", err
	}
	if flowState == nil || flowState.StateData == nil {
		return "", nil
	}
	return flowState.StateData[key], nil
}

// SetStateData stores additional data associated with the phone's state.
func (sm *StoreBasedStateManager) SetStateData(ctx context.Context, phone string, flowType models.FlowType, key models.DataKey, value string) error {
	flowState, err := sm.load(ctx, phone, flowType)
	if err != nil {
		slog.Error("StateManager SetStateData get error", "error", err, "phone", phone, "flowType", flowType, "key", key)
		return err
	}
	if value == "" {
		delete(flowState.StateData, key)
	} else {
		flowState.StateData[key] = value
	}
	if err := sm.store.SaveFlowState(ctx, *flowState); err != nil {
		slog.Error("StateManager SetStateData save error", "error", err, "phone", phone, "flowType", flowType, "key", key)
		return err
	}
	return nil
}

// TransitionState transitions from one state to another.
func (sm *StoreBasedStateManager) TransitionState(ctx context.Context, phone string, flowType models.FlowType, fromState, toState models.StateType) error {
	currentState, err := sm.GetCurrentState(ctx, phone, flowType)
	if err != nil {
		return err
	}
	if currentState != fromState {
		err := fmt.Errorf("invalid state transition: expected %s, current is %s", fromState, currentState)
		slog.Error("StateManager TransitionState invalid transition", "error", err, "phone", phone, "flowType", flowType)
		return err
	}
	if err := sm.SetCurrentState(ctx, phone, flowType, toState); err != nil {
		return err
	}
	slog.Debug("StateManager TransitionState succeeded", "phone", phone, "flowType", flowType, "from", fromState, "to", toState)
	return nil
}

// ResetState removes all state data for a phone in a flow.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, phone string, flowType models.FlowType) error {
	if err := sm.store.DeleteFlowState(ctx, phone, flowType); err != nil {
		slog.Error("StateManager ResetState error", "error", err, "phone", phone, "flowType", flowType)
		return err
	}
	slog.Debug("StateManager ResetState succeeded", "phone", phone, "flowType", flowType)
	return nil
}

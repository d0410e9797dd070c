// Package models defines state management structures for NutriNest flows.
package models

import "time"

// FlowState is the persisted state of one phone inside a flow.
type FlowState struct {
	Phone        string             `json:"phone"`
	FlowType     FlowType           `json:"flow_type"`
	CurrentState StateType          `json:"current_state"`
	StateData    map[DataKey]string `json:"state_data,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

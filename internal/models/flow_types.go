// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific type of stateful conversation flow
type FlowType string

// StateType represents a specific state within a flow
type StateType string

// DataKey represents a key for storing state-specific data
type DataKey string

// Flow type constants.
const (
	FlowTypeProfileUpdate FlowType = "profile_update"
)

// States of the profile update flow.
const (
	StateMenu     StateType = "menu"
	StateAwaiting StateType = "awaiting"
)

// Data keys of the profile update flow.
const (
	DataKeyFieldKey       DataKey = "fieldKey"
	DataKeyWorkingProfile DataKey = "workingProfile"
)

// Package models provides data model definitions for the PetStock sync core.
package models

import (
	"encoding/json"
	"time"
)

// ActionType identifies the remote mutation a PendingAction stands for.
type ActionType string

const (
	ActionProductSet        ActionType = "producto_set"
	ActionProductUpdate     ActionType = "producto_update"
	ActionProductDelete     ActionType = "producto_delete"
	ActionMovementAdd       ActionType = "movimiento_add"
	ActionAddAppointment    ActionType = "ADD_APPOINTMENT"
	ActionUpdateAppointment ActionType = "UPDATE_APPOINTMENT"
	ActionDeleteAppointment ActionType = "DELETE_APPOINTMENT"
)

// Remote collection names.
const (
	CollectionProducts     = "productos"
	CollectionMovements    = "movimientos"
	CollectionAppointments = "appointments"
	CollectionSpecialists  = "specialists"
	CollectionPets         = "pets"
)

// KnownActionTypes lists every type the reconciliation engine can dispatch.
var KnownActionTypes = []ActionType{
	ActionProductSet,
	ActionProductUpdate,
	ActionProductDelete,
	ActionMovementAdd,
	ActionAddAppointment,
	ActionUpdateAppointment,
	ActionDeleteAppointment,
}

// IsKnown reports whether t is one of the dispatchable action types.
func (t ActionType) IsKnown() bool {
	for _, known := range KnownActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Collection returns the remote collection an action type writes to.
func (t ActionType) Collection() string {
	switch t {
	case ActionProductSet, ActionProductUpdate, ActionProductDelete:
		return CollectionProducts
	case ActionMovementAdd:
		return CollectionMovements
	case ActionAddAppointment, ActionUpdateAppointment, ActionDeleteAppointment:
		return CollectionAppointments
	default:
		return ""
	}
}

// PendingAction is a remote mutation recorded locally and not yet confirmed.
// Once enqueued it is never modified.
type PendingAction struct {
	ID        string          `json:"id"`
	Type      ActionType      `json:"type"`
	DocID     string          `json:"docId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewPendingAction builds an action whose payload is the JSON encoding of v.
// A nil v leaves the payload empty.
func NewPendingAction(actionType ActionType, docID string, v interface{}) (PendingAction, error) {
	action := PendingAction{
		Type:  actionType,
		DocID: docID,
	}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return PendingAction{}, err
		}
		action.Payload = data
	}
	return action, nil
}

// CreatedAt returns the action timestamp as a time.Time.
func (a PendingAction) CreatedAt() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// ActionFailure is the diagnostic record kept beside a PendingAction that
// failed at least one replay attempt.
type ActionFailure struct {
	ActionID      string `json:"actionId"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"lastError"`
	LastErrorCode string `json:"lastErrorCode,omitempty"`
	LastAttemptAt int64  `json:"lastAttemptAt"`
	Permanent     bool   `json:"permanent,omitempty"`
}

// DeadLetter is an action removed from the live queue by a retry policy.
type DeadLetter struct {
	Action  PendingAction `json:"action"`
	Failure ActionFailure `json:"failure"`
	MovedAt int64         `json:"movedAt"`
}

// Package models defines the core data structures for LeadPipe.
//
// It includes the qualification flow schema, execution session state, and the
// boundary types shared between the engine, store, messaging, and API modules.
package models

import (
	"errors"
	"time"
)

// LeadTemperature is the derived classification of a lead. It is always
// recomputed from the accumulated score and the flow thresholds, never stored
// independently.
type LeadTemperature string

const (
	// TemperatureCold indicates the score is below the warm threshold.
	TemperatureCold LeadTemperature = "cold"
	// TemperatureWarm indicates the score reached the warm threshold.
	TemperatureWarm LeadTemperature = "warm"
	// TemperatureHot indicates the score reached the hot threshold.
	TemperatureHot LeadTemperature = "hot"
)

// Score bounds for the cumulative qualification score.
const (
	// MinScore is the lower clamp bound for accumulated scores.
	MinScore = 0
	// MaxScore is the upper clamp bound for accumulated scores.
	MaxScore = 100
)

// Error variables for better error handling and testability
var (
	ErrEmptyFlowID          = errors.New("flow id cannot be empty")
	ErrEmptyCompanyID       = errors.New("company id cannot be empty")
	ErrNoQuestions          = errors.New("flow has no qualification questions")
	ErrEmptyNodeID          = errors.New("question node id cannot be empty")
	ErrDuplicateNodeID      = errors.New("duplicate question node id")
	ErrEmptyNextStep        = errors.New("question node next_step cannot be empty")
	ErrDanglingNextStep     = errors.New("question node next_step references unknown node")
	ErrNegativeThreshold    = errors.New("lead thresholds cannot be negative")
	ErrInvertedThresholds   = errors.New("hot threshold must be at least the warm threshold")
	ErrFallbackSelfRef      = errors.New("fallback flow cannot reference the flow itself")
	ErrInvalidConditionRule = errors.New("invalid condition rule")
	ErrEmptySourceChannel   = errors.New("source channel cannot be empty")
	ErrEmptyLeadID          = errors.New("lead id cannot be empty")
)

// Response represents an incoming message from a lead, as reported by a
// channel adapter. ID carries the provider message id and is used for
// at-most-once deduplication before the engine advances.
type Response struct {
	ID   string `json:"id,omitempty"`
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the delivery status of one outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// AssignmentRequest is the side-channel effect emitted when a session first
// classifies a lead as hot and the flow enables auto-assignment. The engine
// never picks a concrete agent; the external assignment collaborator does.
type AssignmentRequest struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	SessionID string    `json:"session_id"`
	CompanyID string    `json:"company_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates data was successfully recorded via API.
	APIStatusRecorded APIStatus = "recorded"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Recorded creates a recorded API response with a message.
func Recorded(message string) APIResponse {
	return APIResponse{Status: string(APIStatusRecorded), Message: message}
}

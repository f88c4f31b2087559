package utils

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// APIResponse is the envelope every HTTP handler writes.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Responder builds envelopes stamped from an injected clock, so response
// timestamps are deterministic under a fake clock.
type Responder struct {
	clock clockwork.Clock
}

func NewResponder(clock clockwork.Clock) *Responder {
	return &Responder{clock: clock}
}

func (r *Responder) Success(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: r.clock.Now(),
	}
}

func (r *Responder) Error(message, detail string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     detail,
		Timestamp: r.clock.Now(),
	}
}

// Package messaging provides the channel adapter abstraction and the
// qualification orchestrator that connects inbound lead messages to the
// flow engine.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/leadpipe/LeadPipe/internal/models"
)

// Channel plumbing constants shared by Service implementations.
const (
	// DefaultChannelBufferSize is the buffer size for receipt and response channels.
	DefaultChannelBufferSize = 64
	// DefaultChannelTimeout bounds how long an emit may block before dropping.
	DefaultChannelTimeout = 5 * time.Second
)

// ErrServiceStopped is returned when an operation is attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit from a recipient.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction over a channel
// (WhatsApp, webchat, voice). Implementations deliver rendered messages and
// report raw lead replies back through the Responses channel; answer
// deduplication happens in the orchestrator before the engine advances.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of delivery receipt events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming lead responses.
	Responses() <-chan models.Response
}

// canonicalizePhone validates and canonicalizes a phone-number recipient by
// removing all non-numeric characters and requiring at least 6 digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short")
	}
	return canonical, nil
}

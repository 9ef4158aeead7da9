// Package messaging implements an in-memory Service for tests and local
// development.
package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/leadpipe/LeadPipe/internal/models"
)

// SentMessage records one outbound message captured by the simulated service.
type SentMessage struct {
	To   string
	Body string
}

// SimulatedService implements Service without any external transport. Sent
// messages are recorded for inspection; inbound responses are injected with
// InjectResponse.
type SimulatedService struct {
	mu        sync.Mutex
	sent      []SentMessage
	receipts  chan models.Receipt
	responses chan models.Response
	stopped   bool
}

// NewSimulatedService creates an empty simulated service.
func NewSimulatedService() *SimulatedService {
	return &SimulatedService{
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient canonicalizes phone-number recipients.
func (s *SimulatedService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage records the message and emits a sent receipt.
func (s *SimulatedService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServiceStopped
	}
	s.sent = append(s.sent, SentMessage{To: to, Body: body})
	s.mu.Unlock()

	select {
	case s.receipts <- models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}:
	default:
	}
	return nil
}

// Start is a no-op.
func (s *SimulatedService) Start(ctx context.Context) error { return nil }

// Stop marks the service stopped.
func (s *SimulatedService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// Receipts returns the receipt channel.
func (s *SimulatedService) Receipts() <-chan models.Receipt { return s.receipts }

// Responses returns the response channel.
func (s *SimulatedService) Responses() <-chan models.Response { return s.responses }

// InjectResponse feeds an inbound response, as a channel adapter would.
func (s *SimulatedService) InjectResponse(r models.Response) {
	s.responses <- r
}

// Sent returns a copy of the messages sent so far.
func (s *SimulatedService) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

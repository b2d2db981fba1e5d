// Package messaging connects text channels to the flow engine.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an inbound message may wait for buffer space
	DefaultChannelTimeout = 1 * time.Second
	// MinRecipientDigits is the minimum number of digits in a canonical phone number
	MinRecipientDigits = 10
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of inbound messages.
	Responses() <-chan models.InboundMessage
}

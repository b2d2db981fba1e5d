package models

// InboundMessage is a message received from a channel address. ID is the
// provider's message id when the channel supplies one.
type InboundMessage struct {
	ID   string `json:"id,omitempty"`
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

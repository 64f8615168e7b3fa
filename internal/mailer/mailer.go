// Package mailer abstracts the external mail transport.
package mailer

import "context"

// SendRequest is one outgoing message
type SendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// SendResponse is the transport's acknowledgement
type SendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Mailer delivers a single message. The transport itself (SMTP, provider
// API) lives behind this interface; the dispatch workers only see it.
type Mailer interface {
	Send(ctx context.Context, req *SendRequest) (*SendResponse, error)
}

// DeliveryError carries whether a failure is worth retrying
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporary reports whether err is a retryable delivery failure. Unknown
// error types (timeouts, connection resets) are treated as temporary.
func IsTemporary(err error) bool {
	if de, ok := err.(*DeliveryError); ok {
		return de.Temporary
	}
	return true
}

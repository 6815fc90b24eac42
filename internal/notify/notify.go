// Package notify delivers decision notifications to applicants.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sells-group/review-cli/internal/model"
)

// MessageKind identifies the notification template.
type MessageKind string

const (
	KindAcceptance MessageKind = "acceptance"
	KindRejection  MessageKind = "rejection"
)

// KindFor returns the message kind sent for a target status. Only accepted and
// rejected decisions notify.
func KindFor(status model.ApplicationStatus) (MessageKind, bool) {
	switch status {
	case model.StatusAccepted:
		return KindAcceptance, true
	case model.StatusRejected:
		return KindRejection, true
	default:
		return "", false
	}
}

// Recipient is who a notification goes to.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Sender delivers one notification per call. Implementations do not batch.
type Sender interface {
	Send(ctx context.Context, kind MessageKind, to Recipient) error
}

// DeliveryError reports a single failed delivery.
type DeliveryError struct {
	Kind       MessageKind
	Recipient  Recipient
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("notify: %s to %s: status %d: %v", e.Kind, e.Recipient.Email, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("notify: %s to %s: %v", e.Kind, e.Recipient.Email, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Transient reports whether a retry could succeed (429, 5xx, network timeout).
func (e *DeliveryError) Transient() bool {
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

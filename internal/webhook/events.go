package webhook

import (
	"encoding/json"
	"strings"
)

// EventKind classifies identity provider events.
type EventKind string

const (
	EventProfileCreated EventKind = "user.created"
	EventProfileUpdated EventKind = "user.updated"
	EventProfileDeleted EventKind = "user.deleted"
	// EventUnhandled marks any type the sync pipeline ignores.
	EventUnhandled EventKind = "unhandled"
)

// Event is a verified, decoded identity provider event.
type Event struct {
	// ID is the provider message id from the svix-id header.
	ID   string
	Type string
	Kind EventKind

	ExternalID   string
	PrimaryEmail string
	DisplayName  string
	AvatarURL    string

	// Raw is the untouched provider payload.
	Raw json.RawMessage
}

// Handled reports whether the event drives a profile mutation.
func (e Event) Handled() bool {
	switch e.Kind {
	case EventProfileCreated, EventProfileUpdated, EventProfileDeleted:
		return true
	default:
		return false
	}
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type userData struct {
	ID                    string         `json:"id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	Username              string         `json:"username"`
	ImageURL              string         `json:"image_url"`
	Deleted               bool           `json:"deleted"`
}

func kindFromType(eventType string) EventKind {
	switch EventKind(eventType) {
	case EventProfileCreated:
		return EventProfileCreated
	case EventProfileUpdated:
		return EventProfileUpdated
	case EventProfileDeleted:
		return EventProfileDeleted
	default:
		return EventUnhandled
	}
}

// primaryEmail returns the address whose id matches the primary pointer, or "".
func (d userData) primaryEmail() string {
	if d.PrimaryEmailAddressID == "" {
		return ""
	}
	for _, address := range d.EmailAddresses {
		if address.ID == d.PrimaryEmailAddressID {
			return strings.TrimSpace(address.EmailAddress)
		}
	}
	return ""
}

func (d userData) displayName() string {
	fullName := strings.TrimSpace(strings.TrimSpace(d.FirstName) + " " + strings.TrimSpace(d.LastName))
	if fullName != "" {
		return fullName
	}
	return strings.TrimSpace(d.Username)
}

package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyKey is returned when a delivery or lookup has no key
	ErrEmptyKey = errors.New("key is required")
	// ErrEmptyPayload is returned when a delivery has no link
	ErrEmptyPayload = errors.New("link is required")
)

// PendingDelivery is a link waiting in the store to be picked up by its requester
type PendingDelivery struct {
	RecordID     uuid.UUID `json:"record_id"`
	Key          string    `json:"email"`
	OwnerContext string    `json:"owner_context,omitempty"`
	Payload      string    `json:"link"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewPendingDelivery creates a new pending delivery with a generated record id
func NewPendingDelivery(key, owner, payload string) (*PendingDelivery, error) {
	key = strings.TrimSpace(key)
	payload = strings.TrimSpace(payload)
	if key == "" {
		return nil, ErrEmptyKey
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	return &PendingDelivery{
		RecordID:     uuid.New(),
		Key:          key,
		OwnerContext: strings.TrimSpace(owner),
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Lookup is the filter a retrieval reads the store with.
// An empty Owner matches rows by key alone.
type Lookup struct {
	Key   string
	Owner string
}

// Scoped reports whether the lookup is narrowed to an owner context
func (l Lookup) Scoped() bool { return l.Owner != "" }

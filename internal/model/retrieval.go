package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the status of a retrieval request
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelivered Status = "delivered"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusExpired || s == StatusFailed
}

// RetrievalRequest is one in-flight wait for a delivery.
// It lives only as long as the caller needs to render its outcome.
type RetrievalRequest struct {
	Lookup   Lookup
	Deadline time.Time
	Status   Status

	Payload  string
	RecordID uuid.UUID
	Err      error
	Attempts int
}

// NewRetrievalRequest creates a waiting request whose deadline is now+timeout
func NewRetrievalRequest(key, owner string, timeout time.Duration, now time.Time) (*RetrievalRequest, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	return &RetrievalRequest{
		Lookup:   Lookup{Key: key, Owner: strings.TrimSpace(owner)},
		Deadline: now.Add(timeout),
		Status:   StatusWaiting,
	}, nil
}

// Deliver moves the request to the delivered state
func (r *RetrievalRequest) Deliver(recordID uuid.UUID, payload string) {
	r.Status = StatusDelivered
	r.RecordID = recordID
	r.Payload = payload
}

// Expire moves the request to the expired state
func (r *RetrievalRequest) Expire() { r.Status = StatusExpired }

// Fail moves the request to the failed state
func (r *RetrievalRequest) Fail(err error) {
	r.Status = StatusFailed
	r.Err = err
}

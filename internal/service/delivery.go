package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ej0e1/tbot/internal/model"
	"github.com/ej0e1/tbot/internal/storage"

	"go.uber.org/zap"
)

// ErrInvalidLink is returned when a delivery link is not an absolute http(s) URL
var ErrInvalidLink = errors.New("link must be an absolute http or https URL")

// Retriever runs one bounded retrieval
type Retriever interface {
	Lookup(ctx context.Context, key, owner string) (*model.RetrievalRequest, error)
}

// CreateDeliveryRequest is the writer-side input of a pending delivery
type CreateDeliveryRequest struct {
	Email        string `json:"email"`
	OwnerContext string `json:"owner_context,omitempty"`
	Link         string `json:"link"`
}

// Delivery is the delivery service interface used by the API
type Delivery interface {
	CreateDelivery(ctx context.Context, req CreateDeliveryRequest) (*model.PendingDelivery, error)
	Retrieve(ctx context.Context, email, owner string) (*model.RetrievalRequest, error)
}

type DeliveryService struct {
	store     storage.Store
	retriever Retriever
	logger    *zap.Logger
}

var _ Delivery = (*DeliveryService)(nil)

func NewDeliveryService(store storage.Store, retriever Retriever, logger *zap.Logger) *DeliveryService {
	return &DeliveryService{
		store:     store,
		retriever: retriever,
		logger:    logger,
	}
}

// CreateDelivery stores a link for email, as the out-of-band writer would
func (s *DeliveryService) CreateDelivery(ctx context.Context, req CreateDeliveryRequest) (*model.PendingDelivery, error) {
	s.logger.Info("CreateDelivery", zap.String("email", req.Email), zap.String("owner_context", req.OwnerContext))
	d, err := model.NewPendingDelivery(req.Email, req.OwnerContext, req.Link)
	if err != nil {
		s.logger.Error("CreateDelivery: validation error", zap.Error(err))
		return nil, err
	}
	if u, err := url.Parse(d.Payload); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		s.logger.Error("CreateDelivery: invalid link", zap.String("link", d.Payload))
		return nil, ErrInvalidLink
	}
	if err := s.store.Insert(ctx, d); err != nil {
		s.logger.Error("CreateDelivery: db error", zap.Error(err))
		return nil, fmt.Errorf("insert delivery: %w", err)
	}
	s.logger.Info("CreateDelivery: stored", zap.String("record_id", d.RecordID.String()))
	return d, nil
}

// Retrieve waits for and consumes the link for email
func (s *DeliveryService) Retrieve(ctx context.Context, email, owner string) (*model.RetrievalRequest, error) {
	s.logger.Info("Retrieve", zap.String("email", email), zap.String("owner_context", owner))
	req, err := s.retriever.Lookup(ctx, email, owner)
	if err != nil {
		s.logger.Error("Retrieve: failed", zap.Error(err))
		return req, err
	}
	s.logger.Info("Retrieve: finished", zap.String("status", string(req.Status)), zap.Int("attempts", req.Attempts))
	return req, nil
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ej0e1/tbot/internal/model"
	"github.com/ej0e1/tbot/internal/service"

	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

type retrieveReq struct {
	Email        string `json:"email"`
	OwnerContext string `json:"owner_context,omitempty"`
}

type retrieveResp struct {
	Status   model.Status `json:"status"`
	Link     string       `json:"link,omitempty"`
	Attempts int          `json:"attempts"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) createDelivery(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("createDelivery API called")
	var req service.CreateDeliveryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.log.Error("createDelivery: invalid json", zap.Error(err))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	d, err := s.svc.CreateDelivery(r.Context(), req)
	if err != nil {
		s.log.Error("createDelivery: failed", zap.Error(err))
		if isValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	s.log.Info("createDelivery: success", zap.String("record_id", d.RecordID.String()))
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("retrieve API called")
	var req retrieveReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.log.Error("retrieve: invalid json", zap.Error(err))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	rr, err := s.svc.Retrieve(r.Context(), req.Email, req.OwnerContext)
	if errors.Is(err, model.ErrEmptyKey) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil || rr == nil {
		s.log.Error("retrieve: failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, retrieveResp{Status: model.StatusFailed})
		return
	}

	resp := retrieveResp{Status: rr.Status, Attempts: rr.Attempts}
	switch rr.Status {
	case model.StatusDelivered:
		resp.Link = rr.Payload
		writeJSON(w, http.StatusOK, resp)
	case model.StatusExpired:
		writeJSON(w, http.StatusNotFound, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func isValidation(err error) bool {
	return errors.Is(err, model.ErrEmptyKey) ||
		errors.Is(err, model.ErrEmptyPayload) ||
		errors.Is(err, service.ErrInvalidLink)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package handler

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/oxygenesis/enrollment/internal/domain"
	"github.com/oxygenesis/enrollment/internal/service"
)

// KeyLoader reads a key pair from disk.
type KeyLoader func(privatePath, publicPath string) (domain.KeyPair, error)

type Unit struct {
	svc    service.Service
	load   KeyLoader
	logger *logrus.Entry
}

func NewUnit(svc service.Service, load KeyLoader, logger *logrus.Entry) *Unit {
	return &Unit{svc: svc, load: load, logger: logger}
}

func (h *Unit) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Unit) List(w http.ResponseWriter, _ *http.Request) {
	units, err := h.svc.ListUnits()
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

// Register loads the key pair named by the request and registers it.
func (h *Unit) Register(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Name           string `json:"name"`
		PrivateKeyPath string `json:"private_key_path"`
		PublicKeyPath  string `json:"public_key_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.PrivateKeyPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "private_key_path is required"})
		return
	}

	pair, err := h.load(req.PrivateKeyPath, req.PublicKeyPath)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	unit, err := h.svc.RegisterUnit(req.Name, pair)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

func (h *Unit) Get(w http.ResponseWriter, r *http.Request) {
	unit, err := h.svc.GetUnit(mux.Vars(r)["fingerprint"])
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

// Request returns a signed enrollment request without sending it.
func (h *Unit) Request(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.BuildRequest(mux.Vars(r)["fingerprint"])
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Unit) Enroll(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Enroll(r.Context(), mux.Vars(r)["fingerprint"])
	if err != nil {
		if e != nil && errors.Is(err, domain.ErrEnrollmentRejected) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":       err.Error(),
				"status_code": e.StatusCode,
				"response":    e.Response,
			})
			return
		}
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Token returns the unit's bearer token, enrolling when the cached one is
// missing or expired.
func (h *Unit) Token(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Token(r.Context(), mux.Vars(r)["fingerprint"])
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":         e.Identity,
		"token":            e.Token,
		"token_expires_at": e.ExpiresAt,
	})
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, fs.ErrNotExist):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrKeyFormat), errors.Is(err, domain.ErrKeyPairMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEnrollmentRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Unit) writeErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorf("request failed: %s", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package httpapi is the request façade: it decodes and validates
// deployment requests, admits them through the queue manager, and
// exposes status/audit/health/metrics endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainforge/deployctl/internal/apperrors"
	"github.com/chainforge/deployctl/internal/audit"
	"github.com/chainforge/deployctl/internal/queue"
	"github.com/chainforge/deployctl/internal/response"
)

// Handler wires the deployment endpoints to a queue.Manager and
// audit.Store.
type Handler struct {
	manager  *queue.Manager
	auditLog *audit.Store
	validate *validator.Validate
}

// New constructs a Handler.
func New(manager *queue.Manager, auditLog *audit.Store) *Handler {
	return &Handler{manager: manager, auditLog: auditLog, validate: validator.New()}
}

// Routes returns the configured chi router: CORS, health/metrics, and the
// versioned deployment API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/deployments", func(r chi.Router) {
		r.Post("/", h.CreateDeployment)
		r.Get("/{id}", h.GetDeployment)
		r.Get("/{id}/audit", h.GetAuditLog)
		r.Get("/{id}/audit/download", h.DownloadAuditBundle)
	})

	return r
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// createDeploymentRequest is the inbound DTO for POST /api/v1/deployments.
// Payload is base64-decoded JSON bytes per encoding/json's default []byte
// handling.
type createDeploymentRequest struct {
	Payload     []byte `json:"payload" validate:"required"`
	Chain       string `json:"chain" validate:"required,oneof=solana evm"`
	RedirectURI string `json:"redirect_uri" validate:"omitempty,url"`
	ProgramName string `json:"program_name" validate:"omitempty,max=128"`
}

type deploymentAccepted struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// CreateDeployment decodes, validates, and admits a new deployment
// request.
// POST /api/v1/deployments
func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var body createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, apperrors.ErrBadRequest.WithMessage("invalid JSON body"))
		return
	}
	if err := h.validate.Struct(body); err != nil {
		response.Error(w, formatValidationError(err))
		return
	}

	req := &queue.Request{
		Payload:     body.Payload,
		Chain:       queue.ChainKind(body.Chain),
		RedirectURI: body.RedirectURI,
		ProgramName: body.ProgramName,
	}

	id, err := h.manager.Enqueue(req)
	if err != nil {
		response.Error(w, translateQueueError(err))
		return
	}

	// No audit log file is created here: spec invariant (iv) ties a log
	// file's existence to worker admission, not HTTP admission, so a
	// request still sitting in pending has none yet. The worker pool
	// creates it at dispatch time (internal/worker.Pool.deploy).

	response.Accepted(w, deploymentAccepted{ID: id, Status: "queued"})
}

type deploymentStatusResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// GetDeployment returns the current status of a deployment.
// GET /api/v1/deployments/{id}
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	status, err := h.manager.GetStatus(id)
	if err != nil {
		response.Error(w, translateQueueError(err))
		return
	}

	response.OK(w, deploymentStatusResponse{ID: id, Status: status.String()})
}

// GetAuditLog returns the full audit document for a deployment.
// GET /api/v1/deployments/{id}/audit
func (h *Handler) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	doc, err := h.auditLog.Get(id)
	if err != nil {
		if errors.Is(err, audit.ErrLogMissing) {
			response.Error(w, apperrors.NewNotFoundError("audit log"))
			return
		}
		response.Error(w, apperrors.ErrInternal)
		return
	}

	response.OK(w, doc)
}

// DownloadAuditBundle streams a gzip-compressed copy of the audit
// document.
// GET /api/v1/deployments/{id}/audit/download
func (h *Handler) DownloadAuditBundle(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	bundle, err := h.auditLog.Bundle(id)
	if err != nil {
		if errors.Is(err, audit.ErrLogMissing) {
			response.Error(w, apperrors.NewNotFoundError("audit log"))
			return
		}
		response.Error(w, apperrors.ErrInternal)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+id.String()+".json.gz\"")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, bundle)
}

func parseID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ErrBadRequest.WithMessage("invalid deployment id")
	}
	return id, nil
}

// translateQueueError maps queue-layer sentinel errors onto the HTTP
// error envelope; anything unrecognized falls back to a 500.
func translateQueueError(err error) error {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return apperrors.ErrQueueFull
	case errors.Is(err, queue.ErrNotFound):
		return apperrors.NewNotFoundError("deployment")
	case errors.Is(err, queue.ErrEmptyPayload):
		return apperrors.NewValidationError("payload", "must not be empty")
	case errors.Is(err, queue.ErrInvalidELFMagic):
		return apperrors.NewValidationError("payload", "invalid BPF program format")
	default:
		return apperrors.ErrInternal
	}
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.NewValidationError(fe.Field(), "failed "+fe.Tag()+" validation")
	}
	return apperrors.ErrBadRequest
}

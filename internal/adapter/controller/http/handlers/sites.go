package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/monscodex/spot-and-block/internal/entity"
	"github.com/monscodex/spot-and-block/internal/usecase/assess"
	"github.com/monscodex/spot-and-block/internal/usecase/classify"
)

// SitesRepository is the slice of the site store the HTTP surface needs.
type SitesRepository interface {
	Get(ctx context.Context, domain string) (*entity.SiteRecord, error)
	Delete(ctx context.Context, domains ...string) error
}

// SitesHandler handles assessment and site cache HTTP requests
type SitesHandler struct {
	assessService *assess.Service
	engine        *classify.Engine
	rules         *entity.RuleSet
	repo          SitesRepository
}

// NewSitesHandler creates a new sites handler
func NewSitesHandler(assessService *assess.Service, engine *classify.Engine, rules *entity.RuleSet, repo SitesRepository) *SitesHandler {
	return &SitesHandler{
		assessService: assessService,
		engine:        engine,
		rules:         rules,
		repo:          repo,
	}
}

// AssessRequest is the body of POST /assess
type AssessRequest struct {
	IP     string `json:"ip"`
	Domain string `json:"domain"`
}

// AssessResponse pairs the (possibly cached) record with its verdict
type AssessResponse struct {
	Record         *entity.SiteRecord          `json:"record"`
	Classification entity.ClassificationResult `json:"classification"`
}

// Assess runs a full assessment for a target and classifies the result
// POST /api/v1/assess
func (h *SitesHandler) Assess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AssessRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.IP == "" || req.Domain == "" {
		ErrorResponse(w, http.StatusBadRequest, "Both ip and domain are required", nil)
		return
	}

	rec, err := h.assessService.Assess(ctx, req.IP, req.Domain)
	if err != nil {
		ProviderErrorResponse(w, err)
		return
	}
	if rec == nil {
		// Excluded target with nothing cached.
		JSONResponse(w, http.StatusOK, AssessResponse{})
		return
	}

	JSONResponse(w, http.StatusOK, AssessResponse{
		Record:         rec,
		Classification: h.engine.Classify(rec, h.rules),
	})
}

// Classify re-evaluates a caller-supplied record against the current rules
// without touching the providers or the cache
// POST /api/v1/classify
func (h *SitesHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var rec entity.SiteRecord
	if err := DecodeJSON(r, &rec); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid record body", err)
		return
	}
	JSONResponse(w, http.StatusOK, h.engine.Classify(&rec, h.rules))
}

// GetSite retrieves the cached record for a domain
// GET /api/v1/sites/{domain}
func (h *SitesHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domain := chi.URLParam(r, "domain")

	rec, err := h.repo.Get(ctx, domain)
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to load site", err)
		return
	}
	if rec == nil {
		ErrorResponse(w, http.StatusNotFound, "Site not cached", nil)
		return
	}

	JSONResponse(w, http.StatusOK, rec)
}

// DeleteSite removes a domain from the cache
// DELETE /api/v1/sites/{domain}
func (h *SitesHandler) DeleteSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domain := chi.URLParam(r, "domain")

	if err := h.repo.Delete(ctx, domain); err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to delete site", err)
		return
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

// OpenSession pins a domain against eviction while a caller holds a verdict
// POST /api/v1/sites/{domain}/session
func (h *SitesHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	h.assessService.Active().Acquire(domain)
	JSONResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

// CloseSession releases a previously opened session
// DELETE /api/v1/sites/{domain}/session
func (h *SitesHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	h.assessService.Active().Release(domain)
	JSONResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

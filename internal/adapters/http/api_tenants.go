package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createTenantRequest struct {
	ID     string            `json:"id"`
	Config map[string]string `json:"config"`
}

func (s *Server) apiListTenants(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.Tenants.ListTenants(r.Context())
	if err != nil {
		fail(w, r, "list tenants", err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) apiCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !decode(w, r, "create tenant", &req) {
		return
	}
	t, err := s.svc.Tenants.CreateTenant(r.Context(), req.ID, req.Config)
	if err != nil {
		fail(w, r, "create tenant", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) apiDeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Tenants.DeleteTenant(r.Context(), chi.URLParam(r, "tenantID")); err != nil {
		fail(w, r, "delete tenant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiTenantConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.Tenants.TenantConfig(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		fail(w, r, "tenant config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) apiSetTenantConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	var cfg map[string]string
	if !decode(w, r, "set tenant config", &cfg) {
		return
	}
	if err := s.svc.Tenants.SetTenantConfig(r.Context(), id, cfg); err != nil {
		fail(w, r, "set tenant config", err)
		return
	}
	merged, err := s.svc.Tenants.TenantConfig(r.Context(), id)
	if err != nil {
		fail(w, r, "tenant config", err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

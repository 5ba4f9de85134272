package authz

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers exposes resolutions over HTTP for services that cannot link the
// resolver in-process.
type Handlers struct {
	resolver *Resolver
}

// NewHandlers creates new resolution handlers.
func NewHandlers(resolver *Resolver) *Handlers {
	return &Handlers{resolver: resolver}
}

// RegisterRoutes registers all resolution routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/authz/users/{id}/data-scopes", h.GetDataScopes).Methods("GET")
	router.HandleFunc("/authz/users/{id}/resource-codes", h.GetResourceCodes).Methods("GET")
	router.HandleFunc("/authz/users/{id}/resource-codes/flat", h.GetResourceCodeList).Methods("GET")
	router.HandleFunc("/authz/users/{id}/scope-orgs", h.GetScopeOrgs).Methods("GET")
}

// GetDataScopes returns the user's effective data-scope decisions.
func (h *Handlers) GetDataScopes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	userID := vars["id"]
	if userID == "" {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	perms, err := h.resolver.ResolveDataScope(ctx, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if perms == nil {
		perms = []EffectivePermission{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(perms)
}

// GetResourceCodes returns the user's resource codes, optionally narrowed to
// one application via the application_id query parameter.
func (h *Handlers) GetResourceCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, ok := subjectFromRequest(w, r)
	if !ok {
		return
	}

	codes, err := h.resolver.ResolveResourceCodes(ctx, subject, r.URL.Query().Get("application_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if codes == nil {
		codes = []ResourceCode{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(codes)
}

// GetResourceCodeList returns the user's resource codes flattened into a
// deduplicated list of individual code strings.
func (h *Handlers) GetResourceCodeList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, ok := subjectFromRequest(w, r)
	if !ok {
		return
	}

	codes, err := h.resolver.ResolveResourceCodeList(ctx, subject, r.URL.Query().Get("application_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if codes == nil {
		codes = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(codes)
}

// GetScopeOrgs expands one resolved permission into the organization ids it
// covers. The resource_key query parameter selects the permission; org_id
// names the organization the subject belongs to.
func (h *Handlers) GetScopeOrgs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, ok := subjectFromRequest(w, r)
	if !ok {
		return
	}

	resourceKey := r.URL.Query().Get("resource_key")
	if resourceKey == "" {
		http.Error(w, "resource_key is required", http.StatusBadRequest)
		return
	}

	perms, err := h.resolver.ResolveDataScope(ctx, subject.UserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var perm *EffectivePermission
	for i := range perms {
		if perms[i].ResourceKey == resourceKey {
			perm = &perms[i]
			break
		}
	}
	if perm == nil {
		http.Error(w, "No permission for resource key", http.StatusNotFound)
		return
	}

	orgIDs, err := h.resolver.ExpandScopeOrgIDs(ctx, subject, *perm, r.URL.Query().Get("org_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if orgIDs == nil {
		orgIDs = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		ResourceKey string    `json:"resource_key"`
		DataScope   DataScope `json:"data_scope"`
		OrgIDs      []string  `json:"org_ids"`
	}{resourceKey, perm.DataScope, orgIDs})
}

// subjectFromRequest builds the resolution subject from the path user id and
// the tenant query parameters. Writes the error response on failure.
func subjectFromRequest(w http.ResponseWriter, r *http.Request) (Subject, bool) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return Subject{}, false
	}

	q := r.URL.Query()
	subject := Subject{
		UserID:      userID,
		TenantCode:  q.Get("tenant_code"),
		TenantAdmin: q.Get("tenant_admin") == "true",
	}
	if subject.TenantAdmin && subject.TenantCode == "" {
		http.Error(w, "tenant_code is required for tenant admins", http.StatusBadRequest)
		return Subject{}, false
	}
	return subject, true
}

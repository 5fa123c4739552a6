package web

import (
	"encoding/json"
	"net/http"

	"github.com/rdeforest/ClodWeave/internal/store"
)

// Secret values are write-only over the API.

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.store.ListSecrets()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(secrets))
	for _, sec := range secrets {
		out = append(out, secretView(sec))
	}
	jsonResponse(w, out)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault is not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	if err := s.secrets.Put(body.Name, body.Description, []byte(body.Value)); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sec, err := s.store.GetSecret(body.Name)
	if err != nil || sec == nil {
		jsonError(w, "secret saved but could not be read back", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(secretView(*sec))
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSecret(r.PathValue("name")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func secretView(sec store.Secret) map[string]any {
	return map[string]any{
		"name":        sec.Name,
		"description": sec.Description,
		"created_at":  sec.CreatedAt,
		"updated_at":  sec.UpdatedAt,
	}
}

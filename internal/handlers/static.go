package handlers

import (
	"io/fs"
	"net/http"
)

// Page serves one file of fsys, whatever the request path.
func Page(fsys fs.FS, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFileFS(w, r, fsys, name)
	}
}

// LoginPage serves the login page, sending visitors that already hold a valid
// session on to the dashboard.
func (h *Handlers) LoginPage(fsys fs.FS, name string) http.HandlerFunc {
	page := Page(fsys, name)
	return func(w http.ResponseWriter, r *http.Request) {
		if token := sessionToken(r); token != "" {
			if _, err := h.store.ValidateSession(r.Context(), token); err == nil {
				http.Redirect(w, r, "/dashboard", http.StatusFound)
				return
			}
		}
		page(w, r)
	}
}

// Assets serves the files of fsys under prefix.
func Assets(prefix string, fsys fs.FS) http.Handler {
	return http.StripPrefix(prefix, http.FileServerFS(fsys))
}

// Package httputil holds small helpers shared by the JSON API handlers.
package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON marshals v directly; the web UI consumes raw payloads, not an
// envelope.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError emits {"status":"error","message":...}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"status": "error", "message": message})
}

func ReadJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

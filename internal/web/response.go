// Package web exposes the node store over HTTP: node lifecycle, batch
// writes, cache reads, search and the read-only schema views.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/juehai/sitebase/internal/node"
)

// envelope is the uniform response shape: success plus either a result or
// the error payload.
type envelope map[string]any

// writeResult sends a success envelope
func writeResult(w http.ResponseWriter, status int, result any) {
	writeJSON(w, status, envelope{"success": true, "result": result})
}

// writeError sends a failure envelope. Known operation errors carry their
// structured payload and a mapped status; anything else is an opaque
// internal error.
func writeError(w http.ResponseWriter, err error) {
	payloader, ok := err.(node.Payloader)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, envelope{
			"success": false,
			"error":   "InternalError",
			"message": "an unexpected error occurred",
		})
		return
	}

	body := envelope{"success": false, "message": err.Error()}
	for k, v := range payloader.Payload() {
		body[k] = v
	}
	writeJSON(w, statusFor(err), body)
}

// statusFor maps operation errors to HTTP statuses
func statusFor(err error) int {
	switch err.(type) {
	case *node.NodeNotFound:
		return http.StatusNotFound
	case *node.NodeInUseError:
		return http.StatusConflict
	case *node.DataIntegrityError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

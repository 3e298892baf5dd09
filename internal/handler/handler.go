// Package handler provides HTTP request handlers.
package handler

import (
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/userhub/userhub/internal/handler/dto"
)

//go:embed templates/*.html
var templateFS embed.FS

var homeTemplate = template.Must(template.ParseFS(templateFS, "templates/home.html"))

// Handler serves the homepage and the fallback routes.
type Handler struct {
	logger *slog.Logger
}

// New creates a new Handler instance.
func New(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger}
}

// homePage is the data rendered by templates/home.html.
type homePage struct {
	Greeting string
}

// Hello is the homepage. Browsers get a rendered page, API clients get JSON.
// GET /
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Vary", "Accept")

	if !prefersHTML(r.Header.Get("Accept")) {
		writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := homeTemplate.Execute(w, homePage{Greeting: "Hello, world"}); err != nil {
		h.logger.Error("template_render_failed", "template", "home.html", "error", err)
	}
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// prefersHTML reports whether an Accept header ranks text/html above JSON.
// Wildcards count towards JSON so clients like curl get the API response.
func prefersHTML(accept string) bool {
	if accept == "" {
		return false
	}

	var htmlQ, jsonQ float64
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}

		q := 1.0
		if v, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				q = parsed
			}
		}

		switch mediaType {
		case "text/html", "application/xhtml+xml":
			htmlQ = max(htmlQ, q)
		case "application/json", "*/*", "application/*":
			jsonQ = max(jsonQ, q)
		}
	}

	return htmlQ > 0 && htmlQ > jsonQ
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/CTAG07/Sundew/pkg/store"
	"github.com/CTAG07/Sundew/pkg/templating"
)

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm     *templating.TemplateManager
	store  *store.Store
	cm     *ConfigManager
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, st *store.Store, cm *ConfigManager, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:     tm,
		store:  st,
		cm:     cm,
		logger: logger,
	}
}

// decodeRequest reads a RenderRequest, capped at the configured body size.
func (t *TemplateAPI) decodeRequest(w http.ResponseWriter, r *http.Request) (*RenderRequest, bool) {
	var req RenderRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes(t.cm))).Decode(&req)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return nil, false
	}
	return &req, true
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/cache", t.handleCache)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleFile)
}

// RenderRequest is the JSON body accepted by the test and preview endpoints.
type RenderRequest struct {
	Name     string          `json:"name,omitempty"`
	Template string          `json:"template,omitempty"`
	Data     *templating.Map `json:"data,omitempty"`
}

// RenderResponse reports the output of a test or preview render together with
// any conditions that failed to evaluate along the way.
type RenderResponse struct {
	Output           string   `json:"output"`
	ExpressionErrors []string `json:"expression_errors"`
}

// CacheInfo is returned by the cache endpoint.
type CacheInfo struct {
	Stats store.Stats `json:"stats"`
	Paths []string    `json:"paths"`
}

func (t *TemplateAPI) writer() (store.Writer, bool) {
	w, ok := t.store.Loader().(store.Writer)
	return w, ok
}

// handleList returns a list of all template paths in the backend.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "templates:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
		return
	}
	wr, ok := t.writer()
	if !ok {
		respondWithJSON(w, http.StatusOK, t.store.Paths())
		return
	}
	paths, err := wr.List(r.Context())
	if err != nil {
		t.logger.Error("Failed to list templates", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list templates: %v", err))
		return
	}
	if paths == nil {
		paths = []string{}
	}
	respondWithJSON(w, http.StatusOK, paths)
}

// handleCache reports or clears the template cache.
func (t *TemplateAPI) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !hasScope(r, "templates:read") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
			return
		}
		respondWithJSON(w, http.StatusOK, CacheInfo{Stats: t.store.Stats(), Paths: t.store.Paths()})
	case http.MethodDelete:
		if !hasScope(r, "templates:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:write' scope")
			return
		}
		t.store.Clear()
		t.tm.Forget()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleTest renders a template body that is not saved. Its parents and
// includes still come from the store.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "templates:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
		return
	}

	req, ok := t.decodeRequest(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	exprErrs, err := collectExprErrors(r.Context(), func(ctx context.Context) error {
		return t.tm.RenderText(ctx, &buf, req.Template, req.Data)
	})
	if err != nil {
		respondWithError(w, renderStatus(err), fmt.Sprintf("Template render failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, RenderResponse{Output: buf.String(), ExpressionErrors: exprErrs})
}

// handlePreview renders a stored template with the given data.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "templates:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
		return
	}

	req, ok := t.decodeRequest(w, r)
	if !ok {
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "Field 'name' is required")
		return
	}

	var buf bytes.Buffer
	exprErrs, err := collectExprErrors(r.Context(), func(ctx context.Context) error {
		return t.tm.Render(ctx, &buf, req.Name, req.Data)
	})
	if err != nil {
		status := renderStatus(err)
		if status == http.StatusNotFound {
			respondWithError(w, status, fmt.Sprintf("Template '%s' not found", req.Name))
			return
		}
		respondWithError(w, status, fmt.Sprintf("Failed to render preview: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, RenderResponse{Output: buf.String(), ExpressionErrors: exprErrs})
}

const contextKeyExprErrors = contextKey("expr_errors")

// exprCollector gathers the expression errors reported during one render.
type exprCollector struct {
	mu   sync.Mutex
	errs []string
}

func (c *exprCollector) add(err *templating.ExpressionError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err.Error())
}

// collectExprErrors runs a render with a request-scoped collector, so that the
// caller sees the conditions that failed during its own render only.
func collectExprErrors(ctx context.Context, render func(context.Context) error) ([]string, error) {
	c := &exprCollector{errs: []string{}}
	err := render(context.WithValue(ctx, contextKeyExprErrors, c))
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs, err
}

// reportExprError hands an expression error to the collector of the render
// it occurred in, if that render is being collected.
func reportExprError(ctx context.Context, err *templating.ExpressionError) {
	if c, ok := ctx.Value(contextKeyExprErrors).(*exprCollector); ok {
		c.add(err)
	}
}

// handleFile manages CRUD operations for a single template.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !hasScope(r, "templates:read") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
			return
		}
		text, err := t.store.Load(r.Context(), name)
		if err != nil {
			respondWithError(w, renderStatus(err), "Template not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, text)

	case http.MethodPut:
		if !hasScope(r, "templates:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:write' scope")
			return
		}
		wr, ok := t.writer()
		if !ok {
			respondWithError(w, http.StatusNotImplemented, "Template backend is read-only")
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes(t.cm)))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondWithError(w, http.StatusRequestEntityTooLarge, "Template too large")
				return
			}
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = wr.Save(r.Context(), name, string(body)); err != nil {
			t.logger.Error("Failed to save template", "template", name, "error", err)
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to save template: %v", err))
			return
		}
		t.store.Evict(name)
		t.tm.Forget(name)
		t.logger.Info("Template saved via API", "template", name, "bytes", len(body))
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !hasScope(r, "templates:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:write' scope")
			return
		}
		wr, ok := t.writer()
		if !ok {
			respondWithError(w, http.StatusNotImplemented, "Template backend is read-only")
			return
		}
		if err := wr.Delete(r.Context(), name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template: %v", err))
			return
		}
		t.store.Evict(name)
		t.tm.Forget(name)
		t.logger.Info("Template deleted via API", "template", name)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/CTAG07/Sundew/pkg/store"
	"github.com/CTAG07/Sundew/pkg/templating"
)

type Server struct {
	cm          *ConfigManager
	db          *sql.DB
	logger      *slog.Logger
	store       *store.Store
	sqlLoader   *store.SQLLoader
	tm          *templating.TemplateManager
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	renderMux   *http.ServeMux
	apiMux      *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	server := &Server{
		cm:        cm,
		db:        db,
		logger:    logger,
		renderMux: http.NewServeMux(),
		apiMux:    http.NewServeMux(),
	}

	var loader store.Loader
	switch config.Server.TemplateBackend {
	case backendSQL:
		sqlLoader, err := store.NewSQLLoader(db)
		if err != nil {
			return nil, fmt.Errorf("failed to create sql template loader: %w", err)
		}
		server.sqlLoader = sqlLoader
		loader = sqlLoader
	default:
		dirLoader, err := store.NewDirLoader(config.Server.TemplateDir, config.Server.TemplateExt)
		if err != nil {
			return nil, fmt.Errorf("failed to create directory template loader: %w", err)
		}
		loader = dirLoader
	}
	server.store = store.New(loader, logger)

	tm, err := templating.NewTemplateManager(logger, server.store, config.Templates)
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	server.tm = tm
	cm.SetTemplateManager(tm)

	// api initialization
	server.authAPI = NewAuthAPI(db, logger)
	server.statsAPI = NewStatsAPI(db, logger)
	server.templateAPI = NewTemplateAPI(tm, server.store, cm, logger)
	server.serverAPI = NewServerAPI(cm, actionChan, logger)

	tm.OnExpressionError(func(ctx context.Context, e *templating.ExpressionError) {
		server.statsAPI.RecordExpressionError(ctx, e.Template)
		reportExprError(ctx, e)
	})

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	server.renderMux.HandleFunc("/favicon.ico", handleFavicon)
	server.renderMux.HandleFunc("/render/", server.handleRender)

	return server, nil
}

// Close releases resources held by the template backend.
func (s *Server) Close() {
	if s.sqlLoader != nil {
		s.sqlLoader.Close()
	}
}

// handleRender renders /render/{path} against the request data: the JSON
// object in a POST body, or the query parameters of a GET.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/render/")
	if name == "" {
		http.NotFound(w, r)
		return
	}
	config := s.cm.Get()

	var data any
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		data = queryData(r.URL.Query())
	case http.MethodPost:
		m, err := decodeData(http.MaxBytesReader(w, r.Body, maxBodyBytes(s.cm)))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, fmt.Sprintf("Invalid JSON data: %v", err), http.StatusBadRequest)
			return
		}
		data = m
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	var buf bytes.Buffer
	err := s.tm.Render(r.Context(), &buf, name, data)
	elapsed := time.Since(start)
	s.statsAPI.RecordRender(r.Context(), name, err, elapsed)
	if err != nil {
		status := renderStatus(err)
		s.logger.Warn("Failed to render template", "template", name, "status", status, "remote_addr", s.clientIP(r), "error", err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	s.logger.Debug("Rendered template", "template", name, "bytes", buf.Len(), "duration", elapsed, "remote_addr", s.clientIP(r))
	for k, v := range config.Server.Headers {
		w.Header().Set(k, v)
	}
	_, _ = buf.WriteTo(w)
}

// renderStatus maps a render failure to an HTTP status. Only a missing
// top-level template is the client's problem; a missing parent or include
// means the stored template itself is broken.
func renderStatus(err error) int {
	var terr *templating.Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case templating.ErrTemplateNotFound:
			return http.StatusNotFound
		case templating.ErrOutputLimit:
			return http.StatusInsufficientStorage
		}
		return http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// maxBodyBytes returns the configured request body limit.
func maxBodyBytes(cm *ConfigManager) int64 {
	if limit := cm.Get().Server.MaxBodyBytes; limit > 0 {
		return limit
	}
	return DefaultServerConfig().MaxBodyBytes
}

// decodeData reads a JSON object, keeping key order for loops. An empty body
// yields no data.
func decodeData(r io.Reader) (*templating.Map, error) {
	m := templating.NewMap()
	if err := json.NewDecoder(r).Decode(m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// queryData turns query parameters into render data. Repeated parameters
// become lists.
func queryData(values url.Values) *templating.Map {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := templating.NewMap()
	for _, k := range keys {
		vs := values[k]
		if len(vs) == 1 {
			m.Set(k, vs[0])
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		m.Set(k, list)
	}
	return m
}

// clientIP returns the address of the client, trusting forwarding headers
// only when the direct peer is a configured proxy.
func (s *Server) clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		ip = r.RemoteAddr
	}
	if !s.cm.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}

	// The X-Forwarded-For header can contain a comma-separated list of IPs.
	// The first IP in the list is the original client IP.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	return ip
}

// handleFavicon keeps browsers' favicon requests from being counted as
// template renders.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS render_stats (
    template      TEXT PRIMARY KEY,
    renders       INTEGER NOT NULL DEFAULT 0,
    failures      INTEGER NOT NULL DEFAULT 0,
    expr_errors   INTEGER NOT NULL DEFAULT 0,
    total_micros  INTEGER NOT NULL DEFAULT 0,
    first_seen    DATETIME NOT NULL,
    last_seen     DATETIME NOT NULL
);
`

// TemplateStats is the per-template row returned by the stats API.
type TemplateStats struct {
	Template       string    `json:"template"`
	Renders        int64     `json:"renders"`
	Failures       int64     `json:"failures"`
	ExprErrors     int64     `json:"expression_errors"`
	AvgRenderMicro int64     `json:"avg_render_us"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}

// GlobalStatsSummary provides a high-level overview of all collected stats.
type GlobalStatsSummary struct {
	TotalRenders    int64 `json:"total_renders"`
	TotalFailures   int64 `json:"total_failures"`
	TotalExprErrors int64 `json:"total_expression_errors"`
	UniqueTemplates int64 `json:"unique_templates"`
	AvgRenderMicros int64 `json:"avg_render_us"`
}

// StatsAPI records render activity and serves it through the API.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/templates", s.handleTemplates)
	mux.HandleFunc("/api/stats/templates/", s.handleTemplate)
	mux.HandleFunc("/api/stats/reset", s.handleReset)
}

// RecordRender counts one render of template. A non-nil renderErr counts as a failure.
func (s *StatsAPI) RecordRender(ctx context.Context, template string, renderErr error, took time.Duration) {
	failed := 0
	if renderErr != nil {
		failed = 1
	}
	now := time.Now().UTC()
	// Stats must survive a client hanging up mid-request.
	ctx = context.WithoutCancel(ctx)
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO render_stats (template, renders, failures, total_micros, first_seen, last_seen) VALUES (?, 1, ?, ?, ?, ?)
        ON CONFLICT(template) DO UPDATE SET renders = renders + 1, failures = failures + excluded.failures,
            total_micros = total_micros + excluded.total_micros, last_seen = excluded.last_seen
    `, template, failed, took.Microseconds(), now, now)
	if err != nil {
		s.logger.Error("Failed to record render stats", "template", template, "error", err)
	}
}

// RecordExpressionError counts a failed condition against the template it was written in.
func (s *StatsAPI) RecordExpressionError(ctx context.Context, template string) {
	if template == "" {
		template = "(ad-hoc)"
	}
	now := time.Now().UTC()
	ctx = context.WithoutCancel(ctx)
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO render_stats (template, expr_errors, first_seen, last_seen) VALUES (?, 1, ?, ?)
        ON CONFLICT(template) DO UPDATE SET expr_errors = expr_errors + 1
    `, template, now, now)
	if err != nil {
		s.logger.Error("Failed to record expression error", "template", template, "error", err)
	}
}

// Template returns the stats row for one template.
func (s *StatsAPI) Template(ctx context.Context, template string) (*TemplateStats, error) {
	var ts TemplateStats
	var totalMicros int64
	err := s.db.QueryRowContext(ctx,
		"SELECT template, renders, failures, expr_errors, total_micros, first_seen, last_seen FROM render_stats WHERE template = ?",
		template).Scan(&ts.Template, &ts.Renders, &ts.Failures, &ts.ExprErrors, &totalMicros, &ts.FirstSeen, &ts.LastSeen)
	if err != nil {
		return nil, err
	}
	if ts.Renders > 0 {
		ts.AvgRenderMicro = totalMicros / ts.Renders
	}
	return &ts, nil
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !hasScope(r, "stats:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'stats:read' scope")
		return
	}
	var summary GlobalStatsSummary
	var totalMicros int64
	err := s.db.QueryRowContext(r.Context(), `
        SELECT COALESCE(SUM(renders), 0), COALESCE(SUM(failures), 0), COALESCE(SUM(expr_errors), 0),
               COUNT(*), COALESCE(SUM(total_micros), 0)
        FROM render_stats`).Scan(&summary.TotalRenders, &summary.TotalFailures, &summary.TotalExprErrors,
		&summary.UniqueTemplates, &totalMicros)
	if err != nil {
		s.logger.Error("Failed to query stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	if summary.TotalRenders > 0 {
		summary.AvgRenderMicros = totalMicros / summary.TotalRenders
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if !hasScope(r, "stats:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'stats:read' scope")
		return
	}
	rows, err := s.db.QueryContext(r.Context(),
		"SELECT template, renders, failures, expr_errors, total_micros, first_seen, last_seen FROM render_stats ORDER BY renders DESC, template LIMIT 100")
	if err != nil {
		s.logger.Error("Failed to query template stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	results := []TemplateStats{}
	for rows.Next() {
		var ts TemplateStats
		var totalMicros int64
		if err = rows.Scan(&ts.Template, &ts.Renders, &ts.Failures, &ts.ExprErrors, &totalMicros, &ts.FirstSeen, &ts.LastSeen); err != nil {
			s.logger.Error("Failed to scan template stats", "error", err)
			continue
		}
		if ts.Renders > 0 {
			ts.AvgRenderMicro = totalMicros / ts.Renders
		}
		results = append(results, ts)
	}
	respondWithJSON(w, http.StatusOK, results)
}

func (s *StatsAPI) handleTemplate(w http.ResponseWriter, r *http.Request) {
	if !hasScope(r, "stats:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'stats:read' scope")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/stats/templates/")
	ts, err := s.Template(r.Context(), name)
	if errors.Is(err, sql.ErrNoRows) {
		respondWithError(w, http.StatusNotFound, "No stats for template")
		return
	}
	if err != nil {
		s.logger.Error("Failed to query template stats", "template", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, ts)
}

func (s *StatsAPI) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "server:control") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'server:control' scope")
		return
	}
	if _, err := s.db.ExecContext(r.Context(), "DELETE FROM render_stats"); err != nil {
		s.logger.Error("Failed to reset stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	s.logger.Info("Render stats reset via API")
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailoreply.ai/platform/internal/middleware"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/database"
	"mailoreply.ai/platform/pkg/logger"
)

type LogFilter struct {
	ErrorType string
	UserID    string
	Limit     int
}

type LogStore interface {
	InsertExtensionLog(ctx context.Context, l models.ExtensionLog) (int64, error)
	ListExtensionLogs(ctx context.Context, f LogFilter) ([]models.ExtensionLog, error)
	ExtensionLogStats(ctx context.Context, since time.Time) (map[string]int, error)
}

type CreateLogRequest struct {
	ErrorType    string                 `json:"error_type"`
	ErrorMessage string                 `json:"error_message"`
	Context      map[string]interface{} `json:"context_data,omitempty"`
}

// CreateExtensionLog stores an error report from the browser extension.
func (h *Handler) CreateExtensionLog(w http.ResponseWriter, r *http.Request) {
	var req CreateLogRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}
	if strings.TrimSpace(req.ErrorType) == "" || strings.TrimSpace(req.ErrorMessage) == "" {
		h.sendJSON(w, http.StatusBadRequest, Response{Success: false, Error: "error_type and error_message are required"})
		return
	}

	entry := models.ExtensionLog{
		ErrorType:    req.ErrorType,
		ErrorMessage: req.ErrorMessage,
		Context:      req.Context,
		CreatedAt:    h.now().UTC(),
	}
	if claims := middleware.GetUserFromContext(r); claims != nil {
		entry.UserID = &claims.UserID
	}

	id, err := h.logs.InsertExtensionLog(r.Context(), entry)
	if err != nil {
		h.logger.Error("Failed to store extension log", "error", err)
		h.sendJSON(w, http.StatusInternalServerError, Response{Success: false, Error: "Failed to create log"})
		return
	}

	h.sendJSON(w, http.StatusCreated, Response{Success: true, Data: map[string]int64{"id": id}})
}

func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	f := LogFilter{
		ErrorType: r.URL.Query().Get("error_type"),
		UserID:    r.URL.Query().Get("user_id"),
		Limit:     100,
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
		f.Limit = l
	}

	logs, err := h.logs.ListExtensionLogs(r.Context(), f)
	if err != nil {
		h.logger.Error("Failed to list extension logs", "error", err)
		h.sendJSON(w, http.StatusInternalServerError, Response{Success: false, Error: "Database error"})
		return
	}
	if logs == nil {
		logs = []models.ExtensionLog{}
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: logs})
}

func (h *Handler) GetLogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.logs.ExtensionLogStats(r.Context(), h.now().Add(-24*time.Hour))
	if err != nil {
		h.sendJSON(w, http.StatusInternalServerError, Response{Success: false, Error: "Database error"})
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: stats})
}

type PostgresLogStore struct {
	db     *database.DB
	logger *logger.Logger
}

func NewPostgresLogStore(db *database.DB, l *logger.Logger) *PostgresLogStore {
	return &PostgresLogStore{db: db, logger: l.With("component", "extension_logs")}
}

func (s *PostgresLogStore) InsertExtensionLog(ctx context.Context, l models.ExtensionLog) (int64, error) {
	contextJSON, err := json.Marshal(l.Context)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO extension_logs (user_id, error_type, error_message, context_data, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, l.UserID, l.ErrorType, l.ErrorMessage, contextJSON, l.CreatedAt).Scan(&id)
	return id, err
}

func (s *PostgresLogStore) ListExtensionLogs(ctx context.Context, f LogFilter) ([]models.ExtensionLog, error) {
	query := `SELECT id, user_id, error_type, error_message, context_data, created_at FROM extension_logs WHERE 1=1`
	args := []interface{}{}

	if f.ErrorType != "" {
		args = append(args, f.ErrorType)
		query += " AND error_type = $" + strconv.Itoa(len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += " AND user_id = $" + strconv.Itoa(len(args))
	}
	args = append(args, f.Limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ExtensionLog
	for rows.Next() {
		var l models.ExtensionLog
		var contextJSON []byte
		if err := rows.Scan(&l.ID, &l.UserID, &l.ErrorType, &l.ErrorMessage, &contextJSON, &l.CreatedAt); err != nil {
			return nil, err
		}
		ctxData, err := decodeContext(contextJSON)
		if err != nil {
			s.logger.Warn("Unreadable context_data on extension log", "log_id", l.ID, "error", err)
		}
		l.Context = ctxData
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// decodeContext parses a stored context_data column. A value that is not a
// JSON object comes back under "raw" so it is still visible to admins.
func decodeContext(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"raw": string(raw)}, err
	}
	return out, nil
}

func (s *PostgresLogStore) ExtensionLogStats(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT error_type, COUNT(*) FROM extension_logs
		WHERE created_at > $1
		GROUP BY error_type
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		stats[typ] = count
	}
	return stats, rows.Err()
}

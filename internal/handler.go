package internal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/system-design/duel-arena/internal/leaderboard"
	apperrors "github.com/koopa0/system-design/duel-arena/pkg/errors"
)

// LeaderboardReader 排行榜查詢端
type LeaderboardReader interface {
	Page(ctx context.Context, page, size int) (*leaderboard.PageResult, error)
}

// Handler HTTP 請求處理器
type Handler struct {
	hub         *Hub
	registry    *Registry
	sessions    *SessionTable
	matchmaker  *Matchmaker
	leaderboard LeaderboardReader
	logger      *slog.Logger
}

// NewHandler 創建 HTTP 處理器，leaderboard 可為 nil（端點回 503）
func NewHandler(hub *Hub, registry *Registry, sessions *SessionTable, matchmaker *Matchmaker, lb LeaderboardReader, logger *slog.Logger) *Handler {
	return &Handler{
		hub:         hub,
		registry:    registry,
		sessions:    sessions,
		matchmaker:  matchmaker,
		leaderboard: lb,
		logger:      logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /ws", wrap(h.hub.ServeWS))

	mux.HandleFunc("GET /api/v1/leaderboard", wrap(h.cors(h.getLeaderboard)))
	mux.HandleFunc("OPTIONS /api/v1/leaderboard", wrap(h.cors(h.preflight)))

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// getLeaderboard 分頁排行榜
//
// page 預設 1；limit 預設 10，上限 100；無效值回到預設值。
func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.errorResponse(w, "leaderboard unavailable", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()

	page := 1
	if p := query.Get("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}

	limit := leaderboard.DefaultPageSize
	if l := query.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= leaderboard.MaxPageSize {
			limit = val
		}
	}

	result, err := h.leaderboard.Page(r.Context(), page, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "leaderboard query failed", "page", page, "limit", limit, "error", err)
		switch {
		case apperrors.IsInvalidInput(err):
			h.errorResponse(w, err.Error(), http.StatusBadRequest)
		default:
			h.errorResponse(w, "database error", http.StatusInternalServerError)
		}
		return
	}

	h.jsonResponse(w, result, http.StatusOK)
}

func (h *Handler) preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 執行狀態
func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	h.jsonResponse(w, map[string]any{
		"connections":     h.registry.Count(),
		"active_sessions": h.sessions.Len(),
		"matches_created": h.matchmaker.Matches(),
		"player_waiting":  h.matchmaker.Waiting(),
	}, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode json response failed", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// cors 允許瀏覽器跨來源讀取排行榜
func (h *Handler) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		next(w, r)
	}
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic while handling request",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack WebSocket 升級需要接管底層連線
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

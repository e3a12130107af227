package httptransport

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

// Handler serves a crm.Authority over HTTP.
type Handler struct {
	authority crm.Authority
	options   *ServerOptions
	logger    *logging.Logger
	router    chi.Router
}

// NewHandler builds the router for authority.
func NewHandler(authority crm.Authority, opts ...ServerOption) *Handler {
	options := DefaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	h := &Handler{
		authority: authority,
		options:   options,
		logger:    logging.WithComponent(logging.Component("http-handler")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.loggingMiddleware)
	if options.RequestTimeout > 0 {
		r.Use(middleware.Timeout(options.RequestTimeout))
	}
	for _, mw := range options.Middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", h.handleHealth)
	r.Get("/customers/{id}", h.handleFetchSnapshot)
	r.Post("/changes", h.handlePushChange)
	r.Post("/interactions", h.handlePushInteraction)
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so callers can mount extra routes.
func (h *Handler) Router() chi.Router { return h.router }

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.DebugContext(r.Context(), "HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Time: time.Now().UTC()})
}

func (h *Handler) handleFetchSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		h.respondWithError(w, r, http.StatusBadRequest, "customer id is required", "")
		return
	}
	c, err := h.authority.FetchSnapshot(r.Context(), id)
	if err != nil {
		h.respondWithAuthorityError(w, r, err)
		return
	}
	h.respondWithJSON(w, r, http.StatusOK, c)
}

func (h *Handler) handlePushChange(w http.ResponseWriter, r *http.Request) {
	var ch crm.Change
	if !h.decode(w, r, &ch) {
		return
	}
	if ch.ID == "" || ch.EntityID == "" || ch.Type == "" {
		h.respondWithError(w, r, http.StatusBadRequest, "change id, entity id and type are required", "")
		return
	}
	if err := h.authority.PushChange(r.Context(), ch); err != nil {
		h.respondWithAuthorityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePushInteraction(w http.ResponseWriter, r *http.Request) {
	var in crm.Interaction
	if !h.decode(w, r, &in) {
		return
	}
	if in.ID == "" || in.CustomerID == "" {
		h.respondWithError(w, r, http.StatusBadRequest, "interaction id and customer id are required", "")
		return
	}
	if err := h.authority.PushInteraction(r.Context(), in); err != nil {
		h.respondWithAuthorityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body through the size-limited reader. It writes the
// error response itself and reports whether decoding succeeded.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, cleanup, err := createSafeRequestReader(w, r, h.options)
	defer cleanup()
	if err == nil {
		err = json.NewDecoder(body).Decode(v)
	}
	if err != nil {
		h.respondWithError(w, r, mapErrorToHTTPStatus(err), err.Error(), "")
		return false
	}
	return true
}

func (h *Handler) respondWithAuthorityError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *crm.RejectedError
	switch {
	case errors.Is(err, crm.ErrRemoteNotFound):
		h.respondWithError(w, r, http.StatusNotFound, err.Error(), "")
	case errors.As(err, &rejected):
		h.respondWithError(w, r, http.StatusConflict, err.Error(), rejected.Reason)
	case errors.Is(err, crm.ErrAuthorityUnavailable):
		h.respondWithError(w, r, http.StatusServiceUnavailable, err.Error(), "")
	case errors.Is(err, context.DeadlineExceeded):
		h.respondWithError(w, r, http.StatusGatewayTimeout, err.Error(), "")
	default:
		h.logger.LogError(r.Context(), err, "Authority call failed",
			slog.String("path", r.URL.Path))
		h.respondWithError(w, r, http.StatusInternalServerError, err.Error(), "")
	}
}

// respondWithJSON responds to an HTTP request with a JSON payload
func (h *Handler) respondWithJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.respondWithError(w, r, http.StatusInternalServerError, "failed to marshal response", "")
		return
	}

	useCompression := h.options.CompressionEnabled &&
		int64(len(response)) >= h.options.CompressionThreshold &&
		strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")

	w.Header().Set("Content-Type", "application/json")
	if !useCompression {
		w.WriteHeader(code)
		_, _ = w.Write(response)
		return
	}

	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(code)
	gz := gzip.NewWriter(w)
	defer gz.Close()
	_, _ = gz.Write(response)
}

// respondWithError responds to an HTTP request with an error message
func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, code int, message, reason string) {
	h.respondWithJSON(w, r, code, ErrorResponse{
		Error:     message,
		Reason:    reason,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

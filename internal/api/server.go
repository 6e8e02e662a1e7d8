package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"thumbnail-service/internal/broker"
	"thumbnail-service/internal/config"
	"thumbnail-service/internal/models"
	"thumbnail-service/internal/ratelimit"
	"thumbnail-service/internal/telemetry"
)

// Route templates.
const (
	RouteUpload   = "/upload_image"
	RouteStatus   = "/check_job_status/{job_id}"
	RouteDownload = "/download_thumbnail/{job_id}"
	RouteJobs     = "/jobs"
	RouteHealth   = "/healthcheck"
)

// Limiter rate-limits uploads per client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers over the broker.
type Server struct {
	cfg         config.Config
	broker      *broker.Broker
	limiter     Limiter
	contentType string
	logger      *slog.Logger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
// contentType is served with downloaded thumbnails.
func New(cfg config.Config, b *broker.Broker, limiter Limiter, contentType string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		broker:      b,
		limiter:     limiter,
		contentType: contentType,
		logger:      logger.With(slog.String("component", "api")),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.checkContentLength)

	r.Get(RouteHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post(RouteUpload, s.handleUpload)
	r.Get(RouteStatus, s.handleStatus)
	r.Get(RouteDownload, s.handleDownload)
	r.Get(RouteJobs, s.handleJobs)
	return r
}

func statusPath(id string) string   { return strings.Replace(RouteStatus, "{job_id}", id, 1) }
func downloadPath(id string) string { return strings.Replace(RouteDownload, "{job_id}", id, 1) }

type uploadResponse struct {
	JobID string `json:"job_id"`
}

type jobStatusResponse struct {
	Status      models.TaskStatus `json:"status"`
	Error       string            `json:"error,omitempty"`
	ResourceURL string            `json:"resource_url,omitempty"`
}

type allJobsResponse struct {
	JobIDs []string `json:"job_ids"`
}

type errorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	data, err := s.readUpload(w, r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size larger than maximum of %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.broker.Enqueue(r.Context(), data)
	if errors.Is(err, models.ErrInvalidImage) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type")
		return
	}
	if err != nil {
		s.logger.Error("enqueue failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	w.Header().Set("Location", statusPath(id))
	writeJSON(w, http.StatusAccepted, uploadResponse{JobID: id})
}

// readUpload accepts either a multipart form with a "file" field or a raw body.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New(`multipart field "file" is required`)
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	d, err := s.limiter.Allow(r.Context(), clientKey(r))
	if err != nil {
		s.logger.Error("rate limiter unavailable", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "rate limit error")
		return false
	}
	if !d.Allowed {
		telemetry.RateLimitRejects.Inc()
		if d.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
		}
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	status, err := s.broker.StatusOf(r.Context(), id)
	if errors.Is(err, models.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, "status lookup failed", err)
		return
	}

	resp := jobStatusResponse{Status: status}
	switch status {
	case models.StatusError:
		msg, err := s.broker.ErrorOf(r.Context(), id)
		if err != nil {
			s.internalError(w, "error lookup failed", err)
			return
		}
		resp.Error = msg
	case models.StatusSucceeded:
		loc := downloadPath(id)
		resp.ResourceURL = baseURL(r) + loc
		w.Header().Set("Location", loc)
		writeJSON(w, http.StatusSeeOther, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	data, err := s.broker.ResultOf(r.Context(), id)
	if errors.Is(err, models.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("completed job with id %s not found", id))
		return
	}
	if err != nil {
		s.internalError(w, "download failed", err)
		return
	}
	w.Header().Set("Content-Type", s.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	groups, err := s.broker.AllStatuses(r.Context())
	if err != nil {
		s.internalError(w, "listing jobs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, allJobsResponse{JobIDs: groups.JobIDs()})
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, msg)
}

// checkContentLength rejects bodies without a declared length or over the limit.
func (s *Server) checkContentLength(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			if r.ContentLength < 0 {
				writeError(w, http.StatusLengthRequired, "Content-Length header missing")
				return
			}
			if r.ContentLength > s.cfg.MaxUploadBytes {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size larger than maximum of %d bytes", s.cfg.MaxUploadBytes))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("took", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, StatusCode: code})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

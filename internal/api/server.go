package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/massmindmaker/fotoset-sub002/internal/apperr"
	"github.com/massmindmaker/fotoset-sub002/internal/service"
)

// Server exposes the generation write path, the status poll read path, the
// payment webhook, and the worker callback endpoints.
type Server struct {
	addr        string
	apiToken    string
	workerToken string
	log         *slog.Logger
	generations *service.GenerationService
	status      *service.StatusService
	payments    *service.PaymentService
	router      *chi.Mux
}

func NewServer(addr, apiToken, workerToken string, log *slog.Logger, generations *service.GenerationService, status *service.StatusService, payments *service.PaymentService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:        addr,
		apiToken:    apiToken,
		workerToken: workerToken,
		log:         log,
		generations: generations,
		status:      status,
		payments:    payments,
		router:      r,
	}

	r.Post("/webhook/payment", s.handlePaymentWebhook)

	r.Group(func(client chi.Router) {
		client.Use(s.bearerAuth(apiToken))
		client.Post("/api/generations", s.handleStartGeneration)
		client.Get("/api/generations/status", s.handleGenerationStatus)
	})

	r.Group(func(worker chi.Router) {
		worker.Use(s.bearerAuth(workerToken))
		worker.Post("/internal/jobs/{id}/photos", s.handleWorkerPhoto)
		worker.Post("/internal/jobs/{id}/fail", s.handleWorkerFailure)
	})

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type referenceImageRequest struct {
	Data        string `json:"data"` // base64
	ContentType string `json:"content_type"`
}

type startGenerationRequest struct {
	AvatarID            int64                   `json:"avatar_id"`
	StyleID             string                  `json:"style_id"`
	PhotoCount          int                     `json:"photo_count"`
	UseStoredReferences bool                    `json:"use_stored_references"`
	ReferenceImages     []referenceImageRequest `json:"reference_images"`
}

type startGenerationResponse struct {
	JobID          int64  `json:"job_id"`
	AvatarID       int64  `json:"avatar_id"`
	TotalPhotos    int    `json:"total_photos"`
	ProcessingMode string `json:"processing_mode"`
}

func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := s.callerIdentity(w, r)
	if !ok {
		return
	}

	var req startGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.New(apperr.CodeValidation, "invalid json body"))
		return
	}

	images := make([]service.SuppliedImage, 0, len(req.ReferenceImages))
	for i, img := range req.ReferenceImages {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			s.writeError(w, apperr.New(apperr.CodeValidation, fmt.Sprintf("reference image %d is not valid base64", i+1)))
			return
		}
		images = append(images, service.SuppliedImage{Data: data, ContentType: img.ContentType})
	}

	result, err := s.generations.Start(r.Context(), service.StartRequest{
		TelegramID:          telegramID,
		AvatarHint:          req.AvatarID,
		StyleID:             req.StyleID,
		PhotoCount:          req.PhotoCount,
		Images:              images,
		UseStoredReferences: req.UseStoredReferences,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, startGenerationResponse{
		JobID:          result.JobID,
		AvatarID:       result.AvatarID,
		TotalPhotos:    result.TotalPhotos,
		ProcessingMode: string(result.ProcessingMode),
	})
}

type jobStatusResponse struct {
	JobID        int64    `json:"job_id"`
	AvatarID     int64    `json:"avatar_id"`
	Status       string   `json:"status"`
	Completed    int      `json:"completed"`
	Total        int      `json:"total"`
	Percentage   int      `json:"percentage"`
	ErrorMessage string   `json:"error_message,omitempty"`
	RefundNote   string   `json:"refund_note,omitempty"`
	Photos       []string `json:"photos"`
}

func (s *Server) handleGenerationStatus(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := s.callerIdentity(w, r)
	if !ok {
		return
	}

	query := service.StatusQuery{TelegramID: telegramID}
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, apperr.New(apperr.CodeValidation, "invalid job_id"))
			return
		}
		query.JobID = &id
	}
	if raw := r.URL.Query().Get("avatar_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, apperr.New(apperr.CodeValidation, "invalid avatar_id"))
			return
		}
		query.AvatarID = &id
	}

	view, err := s.status.GetStatus(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:        view.JobID,
		AvatarID:     view.AvatarID,
		Status:       string(view.Status),
		Completed:    view.Completed,
		Total:        view.Total,
		Percentage:   view.Percentage,
		ErrorMessage: view.ErrorMessage,
		RefundNote:   view.RefundNote,
		Photos:       view.PhotoURLs,
	})
}

// handlePaymentWebhook is the public endpoint for gateway payment status
// updates. The payload is form-encoded and signature-verified in the service.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, apperr.New(apperr.CodeValidation, "invalid form payload"))
		return
	}
	params := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		params[key] = r.PostForm.Get(key)
	}

	if err := s.payments.HandleWebhook(r.Context(), params); err != nil {
		s.log.Error("payment webhook", "err", err)
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type workerPhotoRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleWorkerPhoto(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, apperr.New(apperr.CodeValidation, "invalid job id"))
		return
	}
	var req workerPhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.New(apperr.CodeValidation, "invalid json body"))
		return
	}
	if err := s.generations.ReportPhoto(r.Context(), jobID, req.URL); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type workerFailureRequest struct {
	Error string `json:"error"`
}

func (s *Server) handleWorkerFailure(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, apperr.New(apperr.CodeValidation, "invalid job id"))
		return
	}
	var req workerFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.New(apperr.CodeValidation, "invalid json body"))
		return
	}
	comp, err := s.generations.ReportFailure(r.Context(), jobID, req.Error)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"refunded": comp.Refunded})
}

// callerIdentity reads the chat-platform identity forwarded by the bot layer.
func (s *Server) callerIdentity(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-Telegram-ID")
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, apperr.New(apperr.CodeUnauthorized, "missing or invalid caller identity"))
		return 0, false
	}
	return id, true
}

func (s *Server) bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
				s.writeError(w, apperr.New(apperr.CodeUnauthorized, "invalid or missing token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr := apperr.From(err)
	if appErr.Code == apperr.CodeInternal {
		s.log.Error("internal error", "err", err)
	}
	s.writeJSON(w, appErr.HTTPStatus(), errorResponse{
		Error: errorBody{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

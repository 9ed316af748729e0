package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kirillkom/localrag/internal/config"
	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
	"github.com/kirillkom/localrag/internal/observability/metrics"
)

const (
	maxJSONBodyBytes   = 1 << 20
	maxUploadBodyBytes = 51 << 20
	readinessTimeout   = 2 * time.Second
	metricsService     = "api"
)

// Documents is the document read and delete side the router needs.
type Documents interface {
	ports.DocumentReader
	ports.DocumentRemover
}

// Services are the inbound ports the router dispatches to. Nil services leave their
// routes answering 501.
type Services struct {
	Ingestor   ports.DocumentIngestor
	Answerer   ports.QuestionAnswerer
	Searcher   ports.HybridSearcher
	Documents  Documents
	Feedback   ports.FeedbackService
	Evaluation ports.EvaluationService
	Health     []ports.HealthChecker
	Metrics    *metrics.HTTPServerMetrics
}

type Router struct {
	cfg config.Config
	svc Services

	apiLimiter      *ipRateLimiter
	feedbackLimiter *ipRateLimiter
}

func NewRouter(cfg config.Config, svc Services) *Router {
	rt := &Router{cfg: cfg, svc: svc}
	rt.apiLimiter = newIPRateLimiter(rate.Limit(cfg.APIRateLimitRPS), cfg.APIRateLimitBurst, 5*time.Minute)
	if n := cfg.FeedbackRateLimitPerMinute; n > 0 {
		rt.feedbackLimiter = newIPRateLimiter(rate.Every(time.Minute/time.Duration(n)), n, 5*time.Minute)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/ask", rt.ask)
	api.HandleFunc("POST /v1/search", rt.search)
	api.HandleFunc("POST /v1/documents", rt.uploadDocument)
	api.HandleFunc("GET /v1/documents", rt.listDocuments)
	api.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	api.HandleFunc("DELETE /v1/documents/{id}", rt.deleteDocument)
	api.Handle("POST /v1/feedback", rateLimitMiddleware(http.HandlerFunc(rt.submitFeedback), rt.feedbackLimiter, rt.rejected("feedback_rate_limit")))
	api.HandleFunc("GET /v1/feedback/stats", rt.feedbackStats)
	api.HandleFunc("GET /v1/feedback/reasons", rt.feedbackReasons)
	api.HandleFunc("POST /v1/eval/run", rt.runEvaluation)
	api.HandleFunc("GET /v1/eval/runs", rt.listEvaluationRuns)
	api.HandleFunc("GET /v1/eval/runs/{id}", rt.getEvaluationRun)

	openAPIRouter, err := loadOpenAPIRouter()
	if err != nil {
		slog.Error("openapi_validation_disabled", "error", err)
	}

	var apiHandler http.Handler = api
	apiHandler = requestValidationMiddleware(apiHandler, openAPIRouter, maxJSONBodyBytes)
	apiHandler = backpressureMiddlewareWithReject(apiHandler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, rt.rejected("backpressure"))
	apiHandler = rateLimitMiddleware(apiHandler, rt.apiLimiter, rt.rejected("rate_limit"))

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	root.HandleFunc("GET /readyz", rt.readyz)
	root.HandleFunc("GET /openapi.yaml", rt.openAPI)
	if rt.svc.Metrics != nil {
		root.Handle("GET /metrics", rt.svc.Metrics.Handler())
	}
	root.Handle("/v1/", apiHandler)

	var handler http.Handler = root
	if rt.svc.Metrics != nil {
		handler = rt.svc.Metrics.Middleware(metricsService, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) rejected(reason string) func() {
	return func() {
		if rt.svc.Metrics != nil {
			rt.svc.Metrics.RecordRejected(metricsService, reason)
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz pings every dependency in parallel. Failure details go to the log, not the client.
func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := make([]string, len(rt.svc.Health))
	var g errgroup.Group
	for i, checker := range rt.svc.Health {
		g.Go(func() error {
			if err := checker.Ping(ctx); err != nil {
				slog.Warn("readiness_check_failed", "dependency", checker.Name(), "error", err)
				results[i] = "unavailable"
				return nil
			}
			results[i] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]string, len(results))
	status, code := "ready", http.StatusOK
	for i, checker := range rt.svc.Health {
		checks[checker.Name()] = results[i]
		if results[i] != "ok" {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (rt *Router) openAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}

type askRequest struct {
	Question string              `json:"question"`
	Filter   domain.SearchFilter `json:"filter"`
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Answerer == nil {
		writeNotImplemented(w)
		return
	}
	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}

	start := time.Now()
	answer, err := rt.svc.Answerer.Answer(r.Context(), req.Question, req.Filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.svc.Metrics != nil {
		rt.svc.Metrics.RecordRAGObservation(metricsService, "ask", len(answer.Citations), time.Since(start))
	}
	writeJSON(w, http.StatusOK, answer)
}

type searchRequest struct {
	Query  string              `json:"query"`
	Filter domain.SearchFilter `json:"filter"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Searcher == nil {
		writeNotImplemented(w)
		return
	}
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}

	results, err := rt.svc.Searcher.Search(r.Context(), req.Query, req.Filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Ingestor == nil {
		writeNotImplemented(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodyBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "file is too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.svc.Ingestor.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Documents == nil {
		writeNotImplemented(w)
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	docs, err := rt.svc.Documents.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "offset": offset})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Documents == nil {
		writeNotImplemented(w)
		return
	}
	doc, err := rt.svc.Documents.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Documents == nil {
		writeNotImplemented(w)
		return
	}
	deleted, err := rt.svc.Documents.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

type feedbackRequest struct {
	TraceID   string            `json:"trace_id"`
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
	Rating    domain.Rating     `json:"rating"`
	Reason    string            `json:"reason"`
	Comment   string            `json:"comment"`
}

func (rt *Router) submitFeedback(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Feedback == nil {
		writeNotImplemented(w)
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	saved, err := rt.svc.Feedback.Submit(r.Context(), domain.Feedback{
		TraceID:   req.TraceID,
		Question:  req.Question,
		Answer:    req.Answer,
		Citations: req.Citations,
		Rating:    req.Rating,
		Reason:    req.Reason,
		Comment:   req.Comment,
		ClientIP:  clientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.svc.Metrics != nil {
		rt.svc.Metrics.RecordFeedback(metricsService, string(saved.Rating))
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (rt *Router) feedbackStats(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Feedback == nil {
		writeNotImplemented(w)
		return
	}
	stats, err := rt.svc.Feedback.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) feedbackReasons(w http.ResponseWriter, _ *http.Request) {
	if rt.svc.Feedback == nil {
		writeNotImplemented(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reasons": rt.svc.Feedback.Reasons()})
}

type evaluationRequest struct {
	Name  string                  `json:"name"`
	Cases []domain.EvaluationCase `json:"cases"`
}

func (rt *Router) runEvaluation(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Evaluation == nil {
		writeNotImplemented(w)
		return
	}
	var req evaluationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	run, err := rt.svc.Evaluation.Run(r.Context(), req.Name, req.Cases)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) listEvaluationRuns(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Evaluation == nil {
		writeNotImplemented(w)
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	runs, err := rt.svc.Evaluation.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (rt *Router) getEvaluationRun(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Evaluation == nil {
		writeNotImplemented(w)
		return
	}
	run, results, err := rt.svc.Evaluation.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "results": results})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body is too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return false
	}
	return true
}

// queryInt reads an optional non-negative integer query parameter; zero means absent.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func writeNotImplemented(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "not available in this deployment"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

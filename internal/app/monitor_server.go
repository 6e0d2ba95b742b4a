package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"hedger/internal/execution"
	"hedger/internal/monitor"
)

type errorResponse struct {
	Error   string             `json:"error"`
	Summary *execution.Summary `json:"summary,omitempty"`
}

type handlers struct {
	orch   *orchestrator
	logger *zap.Logger
}

func newRouter(o *orchestrator) *mux.Router {
	h := &handlers{orch: o, logger: o.logger}

	r := mux.NewRouter()
	r.HandleFunc("/executions", h.listExecutions).Methods(http.MethodGet)
	r.HandleFunc("/executions/active", h.activeExecutions).Methods(http.MethodGet)
	r.HandleFunc("/executions/{id}", h.getExecution).Methods(http.MethodGet)
	r.HandleFunc("/executions/{id}/audit", h.getAudit).Methods(http.MethodGet)
	r.HandleFunc("/hedges", h.postHedge).Methods(http.MethodPost)
	r.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	r.Handle("/metrics", o.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (h *handlers) listExecutions(w http.ResponseWriter, r *http.Request) {
	records, err := h.orch.monitor.ListSummaries(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *handlers) activeExecutions(w http.ResponseWriter, _ *http.Request) {
	active := h.orch.manager.ActiveExecutions()
	out := make([]execution.Summary, 0, len(active))
	for _, s := range active {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	summary, ok := h.orch.manager.Execution(id)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("execution %s not found", id)})
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) getAudit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if entries := h.orch.manager.AuditTrail(id); len(entries) > 0 {
		h.writeJSON(w, http.StatusOK, entries)
		return
	}

	// 进程重启后内存审计链为空，回落到持久化记录
	entries, err := h.orch.monitor.ListAudit(r.Context(), id)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if len(entries) == 0 {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no audit entries for %s", id)})
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) postHedge(w http.ResponseWriter, r *http.Request) {
	req := h.orch.defaults
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	summary, err := h.orch.manager.ExecuteHedge(r.Context(), req)
	if err == nil {
		h.writeJSON(w, http.StatusOK, summary)
		return
	}

	var (
		validationErr    *execution.ValidationError
		externalErr      *execution.ExternalCallError
		inconsistencyErr *execution.AggregationInconsistencyError
	)
	switch {
	case errors.As(err, &validationErr):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &inconsistencyErr):
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Summary: &summary})
	case errors.Is(err, execution.ErrNoVenueAvailable):
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.As(err, &externalErr):
		h.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(r.URL.Query().Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := h.orch.monitor.ListEvents(r.Context(), eventType, parseLimit(r, 200))
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("序列化监控响应失败", zap.Error(err))
		status = http.StatusInternalServerError
		payload, _ = json.Marshal(errorResponse{Error: fmt.Sprintf("encode response: %v", err)})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(payload, '\n')); err != nil {
		h.logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

func parseLimit(r *http.Request, fallback int) int {
	qs := r.URL.Query().Get("limit")
	if qs == "" {
		return fallback
	}
	v, err := strconv.Atoi(qs)
	if err != nil || v <= 0 {
		return fallback
	}
	if v > 1000 {
		v = 1000
	}
	return v
}

func startMonitorServer(ctx context.Context, handler http.Handler, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"proximity-guard/internal/audit"
	"proximity-guard/internal/auth"
	monitorapp "proximity-guard/internal/monitor/application"
	monitor "proximity-guard/internal/monitor/domain"
	"proximity-guard/internal/monitor/interfaces"
	"proximity-guard/internal/telemetry/link"
)

const (
	defaultHorizontalThresholdM = 15.0
	defaultVerticalThresholdM   = 5.0
	checkOnceBudget             = 10 * time.Second
)

// Handler provides the monitoring HTTP endpoints.
type Handler struct {
	manager *monitorapp.Manager
	broker  *SSEBroker
	logger  *log.Logger
	audits  audit.Logger
}

// Option customizes handler construction.
type Option func(*Handler)

// WithAuditLog records operator actions to the given audit log.
func WithAuditLog(audits audit.Logger) Option {
	return func(h *Handler) { h.audits = audits }
}

// NewHandler constructs a handler.
func NewHandler(manager *monitorapp.Manager, broker *SSEBroker, logger *log.Logger, opts ...Option) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("monitor handler: nil manager")
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{manager: manager, broker: broker, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// recordAudit writes one operator action best-effort; the request never
// waits on the audit store.
func (h *Handler) recordAudit(r *http.Request, action, sessionID string, metadata any) {
	if h.audits == nil {
		return
	}
	entry := audit.Entry{
		Action:    action,
		SessionID: sessionID,
		Actor:     auth.SubjectFromContext(r.Context()),
		Role:      string(auth.RoleFromContext(r.Context())),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.audits.Log(ctx, entry); err != nil {
			h.logger.Printf("audit %s: %v", action, err)
		}
	}()
}

// ServeHTTP handles /api/v1/monitor and /api/v1/sessions subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/monitor":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCheckOnce(w, r)
	case r.URL.Path == "/api/v1/sessions":
		switch r.Method {
		case http.MethodGet:
			h.handleListSessions(w, r)
		case http.MethodPost:
			h.handleStartSession(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(r.URL.Path, "/api/v1/sessions/"):
		h.handleSessionRoute(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleCheckOnce serves the stateless one-shot assessment: connect,
// read, classify, tear down. Threshold defaults match the continuous
// mode.
func (h *Handler) handleCheckOnce(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	conn1 := query.Get("conn1")
	conn2 := query.Get("conn2")
	if conn1 == "" || conn2 == "" {
		http.Error(w, "conn1 and conn2 are required", http.StatusBadRequest)
		return
	}
	hthresh, err := parseFloatQuery(query.Get("hthresh"), defaultHorizontalThresholdM)
	if err != nil {
		http.Error(w, "hthresh must be a number", http.StatusBadRequest)
		return
	}
	vthresh, err := parseFloatQuery(query.Get("vthresh"), defaultVerticalThresholdM)
	if err != nil {
		http.Error(w, "vthresh must be a number", http.StatusBadRequest)
		return
	}

	req := monitorapp.SessionRequest{
		Conn1: conn1,
		Conn2: conn2,
		Thresholds: monitor.Thresholds{
			HorizontalM: hthresh,
			VerticalM:   vthresh,
		},
		Dialect1: query.Get("dialect1"),
		Dialect2: query.Get("dialect2"),
	}

	budget := checkOnceBudget
	if raw := query.Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "timeout must be a positive duration", http.StatusBadRequest)
			return
		}
		if parsed < budget {
			budget = parsed
		}
	}

	ctx, cancel := contextWithBudget(r, budget)
	defer cancel()

	snapshot, err := h.manager.CheckOnce(ctx, req)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	h.recordAudit(r, audit.ActionCheckOnce, "", map[string]any{
		"conn1": conn1, "conn2": conn2, "status": snapshot.Status,
	})
	status := http.StatusOK
	if snapshot.Status == monitor.StatusUnavailable {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, snapshot)
}

type sessionRequestBody struct {
	Conn1       string  `json:"conn1"`
	Conn2       string  `json:"conn2"`
	HorizontalM float64 `json:"horizontal_threshold_m"`
	VerticalM   float64 `json:"vertical_threshold_m"`
	Dialect1    string  `json:"dialect1"`
	Dialect2    string  `json:"dialect2"`
	IntervalMS  int     `json:"interval_ms"`
}

type sessionResponse struct {
	ID          string              `json:"id"`
	HorizontalM float64             `json:"horizontal_threshold_m"`
	VerticalM   float64             `json:"vertical_threshold_m"`
	Snapshot    monitorapp.Snapshot `json:"snapshot"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body sessionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Conn1 == "" || body.Conn2 == "" {
		http.Error(w, "conn1 and conn2 are required", http.StatusBadRequest)
		return
	}
	if body.HorizontalM == 0 {
		body.HorizontalM = defaultHorizontalThresholdM
	}
	if body.VerticalM == 0 {
		body.VerticalM = defaultVerticalThresholdM
	}

	req := monitorapp.SessionRequest{
		Conn1: body.Conn1,
		Conn2: body.Conn2,
		Thresholds: monitor.Thresholds{
			HorizontalM: body.HorizontalM,
			VerticalM:   body.VerticalM,
		},
		Dialect1: body.Dialect1,
		Dialect2: body.Dialect2,
		Interval: time.Duration(body.IntervalMS) * time.Millisecond,
	}

	session, err := h.manager.StartSession(req)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	h.recordAudit(r, audit.ActionSessionStart, session.ID(), map[string]any{
		"conn1": body.Conn1, "conn2": body.Conn2,
		"horizontal_threshold_m": body.HorizontalM, "vertical_threshold_m": body.VerticalM,
	})
	respondJSON(w, http.StatusCreated, sessionResponse{
		ID:          session.ID(),
		HorizontalM: session.Thresholds().HorizontalM,
		VerticalM:   session.Thresholds().VerticalM,
		Snapshot:    session.Snapshot(),
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	ids := h.manager.List()
	snapshots := make([]monitorapp.Snapshot, 0, len(ids))
	for _, id := range ids {
		session, err := h.manager.Get(id)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, session.Snapshot())
	}
	respondJSON(w, http.StatusOK, snapshots)
}

func (h *Handler) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	session, err := h.manager.Get(id)
	if err != nil {
		respondRequestError(w, err)
		return
	}

	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			respondJSON(w, http.StatusOK, session.Snapshot())
		case http.MethodDelete:
			if err := h.manager.StopSession(id); err != nil {
				respondRequestError(w, err)
				return
			}
			h.recordAudit(r, audit.ActionSessionStop, id, nil)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "check":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.recordAudit(r, audit.ActionSessionCheck, id, nil)
		respondJSON(w, http.StatusOK, session.RunCycle(r.Context()))
	case "retry":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleRetry(w, r, session)
	case "episodes":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		respondJSON(w, http.StatusOK, session.Episodes())
	case "episodes/export.xlsx":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, session, "xlsx")
	case "episodes/export.pdf":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, session, "pdf")
	case "stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.broker.ServeStream(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request, session *monitorapp.Session) {
	var body struct {
		VehicleID string `json:"vehicle_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.VehicleID == "" {
		http.Error(w, "vehicle_id is required", http.StatusBadRequest)
		return
	}
	if err := session.RetryDispatch(body.VehicleID); err != nil {
		if errors.Is(err, monitorapp.ErrNoOpenEpisode) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.recordAudit(r, audit.ActionRetryHold, session.ID(), map[string]any{"vehicle_id": body.VehicleID})
	respondJSON(w, http.StatusAccepted, session.Snapshot())
}

func (h *Handler) handleExport(w http.ResponseWriter, session *monitorapp.Session, format string) {
	episodes := session.Episodes()
	var (
		data        []byte
		err         error
		contentType string
		filename    string
	)
	switch format {
	case "xlsx":
		data, err = interfaces.BuildEpisodesXLSX(session.ID(), session.Thresholds(), episodes)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = session.ID() + "-episodes.xlsx"
	case "pdf":
		data, err = interfaces.BuildEpisodesPDF(session.ID(), session.Thresholds(), episodes)
		contentType = "application/pdf"
		filename = session.ID() + "-episodes.pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Printf("episode export (%s): %v", format, err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondRequestError maps application errors onto HTTP statuses.
// Validation problems are the caller's fault; unreachable vehicles are
// the same service-unavailable class as an UNAVAILABLE assessment.
func respondRequestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitorapp.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, link.ErrBadDescriptor), errors.Is(err, monitor.ErrInvalidThresholds):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

func parseFloatQuery(value string, fallback float64) (float64, error) {
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(value, 64)
}

func contextWithBudget(r *http.Request, budget time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), budget)
}

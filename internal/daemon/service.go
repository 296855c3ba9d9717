// Package daemon provides the long-running analytics HTTP service:
// poll and live-feed endpoints plus store administration.
package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/aggregate"
	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/feed"
	"github.com/RobinvBerg/costpilot/internal/model"
	"github.com/RobinvBerg/costpilot/internal/store"
)

// Service is the HTTP front of the analytics engine.
type Service struct {
	cfg config.Config
	st  *store.Store
	svc *aggregate.Service
	hub *feed.Hub
	log *zap.SugaredLogger

	startedAt time.Time
}

// New wires the service over an existing store and aggregation stack.
func New(cfg config.Config, st *store.Store, svc *aggregate.Service, hub *feed.Hub, log *zap.SugaredLogger) *Service {
	return &Service{
		cfg:       cfg,
		st:        st,
		svc:       svc,
		hub:       hub,
		log:       log,
		startedAt: time.Now(),
	}
}

// Run serves HTTP and the live-feed watcher until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/data", s.handleData)
	mux.HandleFunc("/api/live", s.handleLive)
	mux.HandleFunc("/api/ws", s.handleWS)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/import", s.handleImport)
	mux.HandleFunc("/api/archive", s.handleArchive)
	mux.HandleFunc("/api/restore", s.handleRestore)
	mux.HandleFunc("/api/clear", s.handleClear)
	mux.HandleFunc("/api/estimate", s.handleEstimate)

	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.withRequestLog(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.log.Infow("serving", "addr", s.cfg.Server.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("daemon http server: %w", err)
	}
}

// withRequestLog tags each request with an id and logs its outcome.
func (s *Service) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()[:8]
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debugw("request",
			"id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// handleData is the polling path; its payload is identical to a live
// push at the same instant.
func (s *Service) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	snap, err := s.hub.Current(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleLive streams snapshots over SSE: a full snapshot on connect,
// then a full snapshot on every store change.
func (s *Service) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, ch, initial, err := s.hub.Subscribe()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.hub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE(w, initial)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-ch:
			writeSSE(w, snap)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, snap *model.AggregateSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleWS streams the same payloads over a websocket.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	id, ch, initial, err := s.hub.Subscribe()
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	defer s.hub.Unsubscribe(id)

	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	// Reader pump: we never expect client messages, but reading
	// surfaces the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case snap := <-ch:
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}

// handleEvents serves raw events filtered by from/to (RFC3339 or unix
// seconds), session, and tag query parameters.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	var f store.Filter
	q := r.URL.Query()
	var err error
	if f.From, err = parseInstant(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "bad from: "+err.Error())
		return
	}
	if f.To, err = parseInstant(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "bad to: "+err.Error())
		return
	}
	f.Session = q.Get("session")
	f.Tag = q.Get("tag")

	res, err := s.st.Load(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Events == nil {
		res.Events = []model.CostEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":  res.Events,
		"corrupt": res.Corrupt,
	})
}

func parseInstant(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return secs, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// handleStats reports service-level counters.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	res, err := s.st.Load(store.Filter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"started_at":  s.startedAt,
		"uptime_sec":  int(time.Since(s.startedAt).Seconds()),
		"event_count": len(res.Events),
		"corrupt":     res.Corrupt,
		"fingerprint": s.st.Fingerprint(),
		"subscribers": s.hub.SubscriberCount(),
		"events_file": s.st.Path(),
	})
}

// handleImport accepts a JSONL body of canonical events and appends
// them with dedup. Unparsable lines count as malformed.
func (s *Service) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var events []model.CostEvent
	malformed := 0

	scanner := bufio.NewScanner(http.MaxBytesReader(w, r.Body, 32<<20))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev model.CostEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			malformed++
			continue
		}
		if ev.ID == "" {
			ev.SetID()
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	res, err := s.st.Append(events)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res.Malformed += malformed
	s.svc.Invalidate()
	writeJSON(w, http.StatusOK, res)
}

type archiveRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

func (s *Service) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	req := archiveRequest{OlderThanDays: 30}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.OlderThanDays < 1 {
		writeError(w, http.StatusBadRequest, "older_than_days must be >= 1")
		return
	}

	moved, err := s.st.Archive(time.Duration(req.OlderThanDays) * 24 * time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.svc.Invalidate()
	writeJSON(w, http.StatusOK, map[string]int{"archived": moved})
}

func (s *Service) handleRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	res, err := s.st.Restore()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.svc.Invalidate()
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "DELETE only")
		return
	}
	cleared, err := s.st.Clear()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.svc.Invalidate()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// handleEstimate prices a hypothetical call from query parameters.
func (s *Service) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	q := r.URL.Query()
	modelName := q.Get("model")
	if modelName == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	counts := func(name string) int64 {
		n, _ := strconv.ParseInt(q.Get(name), 10, 64)
		return n
	}

	pricer := config.NewPricer(s.cfg)
	cost, known := pricer.Cost(modelName, counts("input"), counts("output"), counts("cache_read"), counts("cache_write"))
	writeJSON(w, http.StatusOK, map[string]any{
		"model":       config.NormalizeModelName(modelName),
		"known_model": known,
		"cost_usd":    cost,
	})
}

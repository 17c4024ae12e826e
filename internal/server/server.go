// Package server exposes the storage daemon's HTTP surface: a raw KV
// API over the tiered cache, typed ticket/state endpoints, health and
// metrics. Bot processes talk to this instead of owning their own
// Redis/Postgres connections.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/cache"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/logging"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/metrics"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/storage"
)

// maxValueSize bounds KV request bodies; cached records are small JSON
// documents, anything bigger is a client bug.
const maxValueSize = 1 << 20

// Server routes storage requests onto the tiered cache and the typed
// record store built over it.
type Server struct {
	kv    cache.Cache
	store *storage.Store
	mux   *http.ServeMux
}

// New builds the HTTP surface over the given cache. The typed record
// endpoints use a storage.Store on the same cache.
func New(kv cache.Cache) *Server {
	s := &Server{
		kv:    kv,
		store: storage.New(kv),
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("PUT /v1/kv/{key}", s.handleKVPut)
	s.mux.HandleFunc("GET /v1/kv/{key}", s.handleKVGet)
	s.mux.HandleFunc("HEAD /v1/kv/{key}", s.handleKVHead)
	s.mux.HandleFunc("DELETE /v1/kv/{key}", s.handleKVDelete)

	s.mux.HandleFunc("POST /v1/tickets", s.handleTicketCreate)
	s.mux.HandleFunc("GET /v1/tickets/message/{chat}/{message}", s.handleTicketByMessage)
	s.mux.HandleFunc("GET /v1/tickets/conversation/{id}", s.handleTicketByConversation)
	s.mux.HandleFunc("GET /v1/tickets/friendly/{id}", s.handleTicketByFriendly)
	s.mux.HandleFunc("DELETE /v1/tickets/conversation/{id}", s.handleTicketDelete)

	s.mux.HandleFunc("PUT /v1/state/{chat}/{user}", s.handleStateSet)
	s.mux.HandleFunc("GET /v1/state/{chat}/{user}", s.handleStateGet)
	s.mux.HandleFunc("DELETE /v1/state/{chat}/{user}", s.handleStateClear)

	s.mux.HandleFunc("PUT /v1/customers/{chat}", s.handleCustomerSave)
	s.mux.HandleFunc("GET /v1/customers/{chat}", s.handleCustomerGet)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if h := metrics.Handler(); h != nil {
		s.mux.Handle("GET /metrics", h)
	}
}

// Handler returns the full handler chain: request IDs, logging and
// per-route metrics around the router.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status), float64(elapsed.Milliseconds()))
		logging.OpWithRequest(reqID).Debug("request served",
			"method", r.Method, "route", route, "status", rec.status, "duration", elapsed)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errStatus maps storage failures onto HTTP codes: misses are 404,
// rejected durable writes are 502 so callers know the value is not
// persisted, corrupt records are 500.
func errStatus(err error) int {
	var dwe *cache.DurableWriteError
	var se *storage.SerializationError
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &dwe):
		return http.StatusBadGateway
	case errors.As(err, &se):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ─── raw KV ─────────────────────────────────────────────────────────

func (s *Server) handleKVPut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = d
	}

	value, err := io.ReadAll(io.LimitReader(r.Body, maxValueSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(value) > maxValueSize {
		writeError(w, http.StatusRequestEntityTooLarge, "value too large")
		return
	}

	if err := s.kv.Set(r.Context(), key, value, ttl); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKVGet(w http.ResponseWriter, r *http.Request) {
	value, err := s.kv.Get(r.Context(), r.PathValue("key"))
	if errors.Is(err, cache.ErrNotFound) {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(value)
}

func (s *Server) handleKVHead(w http.ResponseWriter, r *http.Request) {
	ok, err := s.kv.Exists(r.Context(), r.PathValue("key"))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleKVDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.kv.Delete(r.Context(), r.PathValue("key")); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── tickets ────────────────────────────────────────────────────────

func (s *Server) handleTicketCreate(w http.ResponseWriter, r *http.Request) {
	var t storage.Ticket
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid ticket body")
		return
	}
	if t.ChatID == 0 || t.MessageID == 0 {
		writeError(w, http.StatusBadRequest, "chat_id and message_id are required")
		return
	}
	if err := s.store.SaveTicket(r.Context(), &t); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &t)
}

func (s *Server) handleTicketByMessage(w http.ResponseWriter, r *http.Request) {
	chatID, err1 := strconv.ParseInt(r.PathValue("chat"), 10, 64)
	messageID, err2 := strconv.ParseInt(r.PathValue("message"), 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "invalid chat or message id")
		return
	}
	t, err := s.store.TicketByMessage(r.Context(), chatID, messageID)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTicketByConversation(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.TicketByConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTicketByFriendly(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.TicketByFriendlyID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTicketDelete(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.TicketByConversation(r.Context(), r.PathValue("id"))
	if errors.Is(err, cache.ErrNotFound) {
		// Deleting an absent ticket is idempotent.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	if err := s.store.DeleteTicket(r.Context(), t); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── user form state ────────────────────────────────────────────────

func (s *Server) parseChatUser(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	chatID, err1 := strconv.ParseInt(r.PathValue("chat"), 10, 64)
	userID, err2 := strconv.ParseInt(r.PathValue("user"), 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "invalid chat or user id")
		return 0, 0, false
	}
	return chatID, userID, true
}

func (s *Server) handleStateSet(w http.ResponseWriter, r *http.Request) {
	chatID, userID, ok := s.parseChatUser(w, r)
	if !ok {
		return
	}
	var st storage.UserState
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid state body")
		return
	}
	st.ChatID, st.UserID = chatID, userID
	if err := s.store.SetUserState(r.Context(), &st); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStateGet(w http.ResponseWriter, r *http.Request) {
	chatID, userID, ok := s.parseChatUser(w, r)
	if !ok {
		return
	}
	st, err := s.store.UserState(r.Context(), chatID, userID)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStateClear(w http.ResponseWriter, r *http.Request) {
	chatID, userID, ok := s.parseChatUser(w, r)
	if !ok {
		return
	}
	if err := s.store.ClearUserState(r.Context(), chatID, userID); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── customers ──────────────────────────────────────────────────────

func (s *Server) handleCustomerSave(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.PathValue("chat"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	var c storage.Customer
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer body")
		return
	}
	c.ChatID = chatID
	if err := s.store.SaveCustomer(r.Context(), &c); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCustomerGet(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.PathValue("chat"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	c, err := s.store.CustomerByChat(r.Context(), chatID)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ─── health ─────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.kv.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

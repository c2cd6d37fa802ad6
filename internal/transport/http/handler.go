package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Handler wires the room use cases into HTTP and websocket endpoints.
type Handler struct {
	service         *app.RoomService
	questionSeconds int
	logger          *slog.Logger
	upgrader        websocket.Upgrader
}

func NewHandler(service *app.RoomService, questionSeconds int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:         service,
		questionSeconds: questionSeconds,
		logger:          logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.Route("/rooms", func(r chi.Router) {
		r.Post("/", h.createRoom)
		r.Get("/{code}", h.getRoom)
		r.Get("/{code}/leaderboard", h.getLeaderboard)
	})

	mux.Get("/ws", h.serveSession)
	mux.Get("/ws/leaderboard", h.serveLeaderboard)

	return mux
}

type createRoomRequest struct {
	Topic        string `json:"topic"`
	RoomName     string `json:"roomName"`
	NumQuestions int    `json:"numQuestions"`
	NumStudents  int    `json:"numStudents"`
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if req.NumQuestions < 1 {
		req.NumQuestions = 10
	}
	if req.NumStudents < 1 {
		req.NumStudents = 1
	}

	room, err := h.service.CreateRoom(r.Context(), req.Topic, req.NumQuestions, req.RoomName, req.NumStudents)
	if err == domain.ErrPoolNotFound || err == domain.ErrEmptyPool {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create room failed", "topic", req.Topic, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	room, err := h.service.GetRoom(r.Context(), code)
	if err == domain.ErrRoomNotFound {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		h.logger.Error("get room failed", "room", code, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	room, err := h.service.GetRoom(r.Context(), code)
	if err == domain.ErrRoomNotFound {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		h.logger.Error("get leaderboard failed", "room", code, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, domain.Rank(room, time.Now()))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

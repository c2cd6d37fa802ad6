package http

import (
	"context"
	"encoding/json"
	"net/http"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"github.com/google/uuid"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// answerPayload names the question it answers so a duplicated or late frame
// cannot be scored against whichever question is active when it arrives.
type answerPayload struct {
	Index  int `json:"index"`
	Option int `json:"option"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	RoomCode      string `json:"roomCode"`
	ParticipantID string `json:"participantId"`
}

type waitingPayload struct {
	RoomName   string `json:"roomName"`
	Topic      string `json:"topic"`
	ReadyCount int    `json:"readyCount"`
	Total      int    `json:"total"`
}

type questionPayload struct {
	Index    int      `json:"index"`
	Total    int      `json:"total"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Seconds  int      `json:"seconds"`
}

type answerResultPayload struct {
	Index         int  `json:"index"`
	Selected      int  `json:"selected"`
	Correct       bool `json:"correct"`
	CorrectAnswer int  `json:"correctAnswer"`
	Score         int  `json:"score"`
	TimedOut      bool `json:"timedOut"`
}

type completedPayload struct {
	TotalQuestions int     `json:"totalQuestions"`
	CorrectAnswers int     `json:"correctAnswers"`
	Percentage     float64 `json:"percentage"`
}

// serveSession upgrades the connection and drives one quiz session for one
// participant: inbound ready/answer commands, outbound lifecycle events.
// A client that presents no participant id gets a minted one back in the
// joined payload and is expected to persist and reuse it.
func (h *Handler) serveSession(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if code == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	participantID := r.URL.Query().Get("participant")
	if participantID == "" {
		participantID = uuid.NewString()
	}
	displayName := r.URL.Query().Get("name")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	session := app.NewSession(code, participantID, displayName, h.service, h.questionSeconds, h.logger)
	runner := app.NewRunner(session, h.service, code)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn("ws write error", "err", err)
				return
			}
		}
	}()

	go func() {
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			h.logger.Warn("session runner stopped", "room", code, "participant", participantID, "err", err)
		}
	}()

	go func() {
		defer close(eventsDone)
		for event := range runner.Events() {
			select {
			case send <- translateEvent(event):
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		RoomCode:      code,
		ParticipantID: participantID,
	}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "ready":
			runner.Ready()
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			runner.Answer(payload.Index, payload.Option)
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	cancelCtx()
	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func translateEvent(event app.Event) outboundMessage[any] {
	switch ev := event.(type) {
	case app.WaitingEvent:
		return outboundMessage[any]{Type: "waiting", Payload: waitingPayload{
			RoomName:   ev.Room.RoomName,
			Topic:      ev.Room.Topic,
			ReadyCount: ev.ReadyCount,
			Total:      ev.Total,
		}}
	case app.QuestionEvent:
		return outboundMessage[any]{Type: "question", Payload: questionPayload{
			Index:    ev.Index,
			Total:    ev.Total,
			Question: ev.Prompt,
			Options:  ev.Options,
			Seconds:  ev.Seconds,
		}}
	case app.AnswerEvent:
		return outboundMessage[any]{Type: "answerResult", Payload: answerResultPayload{
			Index:         ev.Index,
			Selected:      ev.Selected,
			Correct:       ev.Correct,
			CorrectAnswer: ev.CorrectAnswer,
			Score:         ev.Score,
			TimedOut:      ev.TimedOut,
		}}
	case app.CompletedEvent:
		return outboundMessage[any]{Type: "completed", Payload: completedPayload{
			TotalQuestions: ev.Total,
			CorrectAnswers: ev.Correct,
			Percentage:     ev.Percentage,
		}}
	case app.NotFoundEvent:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "room not found"}}
	default:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unknown event"}}
	}
}

// serveLeaderboard streams live ranked snapshots of a room. Read-only; the
// connection issues no writes against the room document.
func (h *Handler) serveLeaderboard(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if code == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}

	updates, cancel, err := h.service.WatchLeaderboard(r.Context(), code)
	if err == domain.ErrRoomNotFound {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("leaderboard subscribe failed", "room", code, "err", err)
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Drain client frames so pings and closes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for lb := range updates {
		msg := outboundMessage[domain.Leaderboard]{Type: "leaderboard", Payload: lb}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

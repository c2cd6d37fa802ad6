package app

import (
	"context"
	"log/slog"

	"quizroom-service/internal/domain"
)

// Phase is a client's position in the quiz lifecycle. Every client derives
// its phase independently from its own observations of the shared document;
// there is no leader and no server tick.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseWaitingRoom
	PhaseQuestionActive
	PhaseQuestionLocked
	PhaseCompleted
	PhaseRoomNotFound
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseWaitingRoom:
		return "waiting_room"
	case PhaseQuestionActive:
		return "question_active"
	case PhaseQuestionLocked:
		return "question_locked"
	case PhaseCompleted:
		return "completed"
	case PhaseRoomNotFound:
		return "room_not_found"
	default:
		return "unknown"
	}
}

// NoSelection marks a timed-out question with no answer; it never matches an
// option index, so it always scores incorrect.
const NoSelection = -1

// Event is a transition signal for the transport to forward to its client.
type Event interface{ event() }

// WaitingEvent reports waiting-room progress on every observed update.
type WaitingEvent struct {
	Room       domain.Room
	ReadyCount int
	Total      int
}

// QuestionEvent announces that a question's countdown has started locally.
type QuestionEvent struct {
	Index   int
	Total   int
	Prompt  string
	Options []string
	Seconds int
}

// AnswerEvent reveals the outcome of a locked question.
type AnswerEvent struct {
	Index         int
	Selected      int
	Correct       bool
	CorrectAnswer int
	Score         int
	TimedOut      bool
}

// CompletedEvent is the terminal per-client summary.
type CompletedEvent struct {
	Total      int
	Correct    int
	Percentage float64
}

// NotFoundEvent signals the room document does not exist.
type NotFoundEvent struct{}

func (WaitingEvent) event()   {}
func (QuestionEvent) event()  {}
func (AnswerEvent) event()    {}
func (CompletedEvent) event() {}
func (NotFoundEvent) event()  {}

// Registry is the set of shared-document writes a session issues.
// *RoomService satisfies it.
type Registry interface {
	Join(ctx context.Context, code, participantID, name string) error
	MarkReady(ctx context.Context, code, participantID string) error
	AddScore(ctx context.Context, code, participantID string, delta int) error
}

// Session drives one client through the quiz: waiting room, synchronized
// start on observed all-ready, per-question countdown, score accrual,
// completion. It is a passive state machine: the caller feeds it document
// snapshots, ticks, and user commands from a single goroutine, and it returns
// the events each input produced.
//
// Registry writes are fire-and-forget. The local phase advances before the
// write is acknowledged, and a failed write is logged, never rolled back, so
// the countdown is not held up by network round-trips.
type Session struct {
	code            string
	participantID   string
	displayName     string
	registry        Registry
	logger          *slog.Logger
	questionSeconds int

	// dispatch runs registry writes off the state machine's goroutine.
	// Tests replace it with an inline call for determinism.
	dispatch func(fn func())

	phase     Phase
	room      domain.Room
	readySent bool
	started   bool
	index     int
	selection int
	remaining int
	score     int
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithDispatch overrides how registry writes are scheduled (test-only).
func WithDispatch(dispatch func(fn func())) SessionOption {
	return func(s *Session) { s.dispatch = dispatch }
}

func NewSession(code, participantID, displayName string, registry Registry, questionSeconds int, logger *slog.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		code:            code,
		participantID:   participantID,
		displayName:     displayName,
		registry:        registry,
		logger:          logger,
		questionSeconds: questionSeconds,
		dispatch:        func(fn func()) { go fn() },
		phase:           PhaseLoading,
		selection:       NoSelection,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Phase() Phase { return s.phase }

func (s *Session) Score() int { return s.score }

// QuestionIndex returns the index of the question currently active or locked.
func (s *Session) QuestionIndex() int { return s.index }

// Remaining returns the seconds left on the current question's countdown.
func (s *Session) Remaining() int { return s.remaining }

// ObserveRoom feeds one snapshot of the shared document into the machine.
// The first snapshot moves the client out of loading and triggers the
// idempotent join write. Once this client observes every participant ready,
// it starts its own question-0 countdown; a client whose snapshot arrives
// later starts later (observed skew).
func (s *Session) ObserveRoom(ctx context.Context, room domain.Room) []Event {
	s.room = room

	switch s.phase {
	case PhaseLoading:
		s.phase = PhaseWaitingRoom
		s.write(ctx, "join", func(ctx context.Context) error {
			return s.registry.Join(ctx, s.code, s.participantID, s.displayName)
		})
		return []Event{s.waitingEvent()}
	case PhaseWaitingRoom:
		if room.AllReady() && !s.started {
			return s.startQuiz()
		}
		return []Event{s.waitingEvent()}
	default:
		// Quiz already running locally; later snapshots only matter to
		// leaderboard watchers.
		return nil
	}
}

// RoomMissing marks the terminal not-found state.
func (s *Session) RoomMissing() []Event {
	s.phase = PhaseRoomNotFound
	return []Event{NotFoundEvent{}}
}

// MarkReady sends this client's readiness flag exactly once. Later calls and
// calls outside the waiting room are no-ops.
func (s *Session) MarkReady(ctx context.Context) []Event {
	if s.phase != PhaseWaitingRoom || s.readySent {
		return nil
	}
	s.readySent = true
	s.write(ctx, "mark_ready", func(ctx context.Context) error {
		return s.registry.MarkReady(ctx, s.code, s.participantID)
	})
	return nil
}

// SelectAnswer submits an answer for the question at index. The first
// submission wins; further calls are ignored. Scoring advances to the next
// question immediately, so a duplicated or late submission names a settled
// index and is rejected rather than consumed by the question now active.
func (s *Session) SelectAnswer(ctx context.Context, index, option int) []Event {
	if s.phase != PhaseQuestionActive || index != s.index {
		return nil
	}
	if option < 0 || option >= len(s.currentQuestion().Options) {
		return nil
	}
	s.selection = option
	return s.lockAndAdvance(ctx, false)
}

// Tick advances the countdown by one unit. At zero with no selection the
// question auto-submits as unanswered, which always scores incorrect.
func (s *Session) Tick(ctx context.Context) []Event {
	if s.phase != PhaseQuestionActive {
		return nil
	}
	s.remaining--
	if s.remaining > 0 {
		return nil
	}
	return s.lockAndAdvance(ctx, true)
}

func (s *Session) startQuiz() []Event {
	s.started = true
	if len(s.room.Questions) == 0 {
		s.phase = PhaseCompleted
		return []Event{s.completedEvent()}
	}
	s.index = 0
	s.selection = NoSelection
	s.remaining = s.questionSeconds
	s.phase = PhaseQuestionActive
	return []Event{s.questionEvent()}
}

// lockAndAdvance reveals the outcome for the current question, dispatches the
// score write, and immediately moves on: next question or completion.
func (s *Session) lockAndAdvance(ctx context.Context, timedOut bool) []Event {
	s.phase = PhaseQuestionLocked

	question := s.currentQuestion()
	correct := s.selection != NoSelection && s.selection == question.CorrectAnswer
	if correct {
		s.score++
		s.write(ctx, "add_score", func(ctx context.Context) error {
			return s.registry.AddScore(ctx, s.code, s.participantID, 1)
		})
	}

	events := []Event{AnswerEvent{
		Index:         s.index,
		Selected:      s.selection,
		Correct:       correct,
		CorrectAnswer: question.CorrectAnswer,
		Score:         s.score,
		TimedOut:      timedOut,
	}}

	if s.index < len(s.room.Questions)-1 {
		s.index++
		s.selection = NoSelection
		s.remaining = s.questionSeconds
		s.phase = PhaseQuestionActive
		return append(events, s.questionEvent())
	}

	s.phase = PhaseCompleted
	return append(events, s.completedEvent())
}

func (s *Session) currentQuestion() domain.Question {
	return s.room.Questions[s.index]
}

func (s *Session) waitingEvent() WaitingEvent {
	return WaitingEvent{
		Room:       s.room,
		ReadyCount: s.room.ReadyCount(),
		Total:      len(s.room.Participants),
	}
}

func (s *Session) questionEvent() QuestionEvent {
	q := s.currentQuestion()
	return QuestionEvent{
		Index:   s.index,
		Total:   len(s.room.Questions),
		Prompt:  q.Question,
		Options: q.Options,
		Seconds: s.questionSeconds,
	}
}

func (s *Session) completedEvent() CompletedEvent {
	total := len(s.room.Questions)
	percentage := 0.0
	if total > 0 {
		percentage = float64(s.score) / float64(total) * 100
	}
	return CompletedEvent{Total: total, Correct: s.score, Percentage: percentage}
}

func (s *Session) write(ctx context.Context, op string, fn func(context.Context) error) {
	s.dispatch(func() {
		if err := fn(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("room write failed",
				"op", op, "room", s.code, "participant", s.participantID, "err", err)
		}
	})
}

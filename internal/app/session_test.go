package app_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

// inline makes dispatched registry writes synchronous so tests can observe
// their effect in the next store snapshot.
func inline(fn func()) { fn() }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedRoom(t *testing.T, store *memory.RoomStore, questions []domain.Question) string {
	t.Helper()
	room := domain.Room{
		Code:         "SEEDROOM1",
		RoomName:     "Seeded",
		Topic:        "dataStructures",
		NumQuestions: len(questions),
		Questions:    questions,
		Participants: []domain.Participant{},
		Status:       domain.StatusWaiting,
		CreatedAt:    time.Now(),
	}
	if err := store.Create(context.Background(), room); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	return room.Code
}

func snapshot(t *testing.T, store *memory.RoomStore, code string) domain.Room {
	t.Helper()
	room, err := store.Get(context.Background(), code)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	return room
}

func twoQuestions() []domain.Question {
	return []domain.Question{
		{Question: "Which structure is LIFO?", Options: []string{"Queue", "Stack", "Heap"}, CorrectAnswer: 1},
		{Question: "Which structure is FIFO?", Options: []string{"Queue", "Stack", "Heap"}, CorrectAnswer: 0},
	}
}

func newTestSession(code, id, name string, registry app.Registry, seconds int) *app.Session {
	return app.NewSession(code, id, name, registry, seconds, discardLogger(), app.WithDispatch(inline))
}

// Mirrors the two-participant flow: both join, both mark ready, each answers
// both questions independently, final scores land on the shared document and
// rank A above B.
func TestTwoParticipantQuizFlow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRoomStore()
	pools := memory.NewPoolRepository(memory.NewStaticPoolLoader(testPools()), time.Minute)
	service := app.NewRoomService(store, pools)
	code := seedRoom(t, store, twoQuestions())

	a := newTestSession(code, "A", "Alice", service, 30)
	b := newTestSession(code, "B", "Bob", service, 30)

	// First observation joins each client.
	a.ObserveRoom(ctx, snapshot(t, store, code))
	if a.Phase() != app.PhaseWaitingRoom {
		t.Fatalf("expected waiting room, got %s", a.Phase())
	}
	b.ObserveRoom(ctx, snapshot(t, store, code))

	room := snapshot(t, store, code)
	if len(room.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(room.Participants))
	}

	a.MarkReady(ctx)
	b.MarkReady(ctx)

	// Each client independently observes all-ready and starts its own timer.
	evsA := a.ObserveRoom(ctx, snapshot(t, store, code))
	evsB := b.ObserveRoom(ctx, snapshot(t, store, code))
	for name, evs := range map[string][]app.Event{"A": evsA, "B": evsB} {
		q, ok := lastEvent(evs).(app.QuestionEvent)
		if !ok {
			t.Fatalf("%s: expected question event, got %T", name, lastEvent(evs))
		}
		if q.Index != 0 || q.Seconds != 30 {
			t.Fatalf("%s: unexpected question event %+v", name, q)
		}
	}

	// Q1: A correct, B incorrect.
	evs := a.SelectAnswer(ctx, 0, 1)
	res := evs[0].(app.AnswerEvent)
	if !res.Correct || res.Score != 1 {
		t.Fatalf("expected A correct with score 1, got %+v", res)
	}
	evs = b.SelectAnswer(ctx, 0, 2)
	res = evs[0].(app.AnswerEvent)
	if res.Correct || res.Score != 0 {
		t.Fatalf("expected B incorrect with score 0, got %+v", res)
	}

	room = snapshot(t, store, code)
	pa, _ := room.Participant("A")
	pb, _ := room.Participant("B")
	if pa.Score != 1 || pb.Score != 0 {
		t.Fatalf("expected scores A=1 B=0, got A=%d B=%d", pa.Score, pb.Score)
	}

	// Q2: both correct.
	evs = a.SelectAnswer(ctx, 1, 0)
	if done, ok := lastEvent(evs).(app.CompletedEvent); !ok || done.Correct != 2 {
		t.Fatalf("expected A completed with 2 correct, got %+v", lastEvent(evs))
	}
	evs = b.SelectAnswer(ctx, 1, 0)
	if done, ok := lastEvent(evs).(app.CompletedEvent); !ok || done.Correct != 1 {
		t.Fatalf("expected B completed with 1 correct, got %+v", lastEvent(evs))
	}
	if a.Phase() != app.PhaseCompleted || b.Phase() != app.PhaseCompleted {
		t.Fatalf("expected both completed, got A=%s B=%s", a.Phase(), b.Phase())
	}

	lb := domain.Rank(snapshot(t, store, code), time.Now())
	if lb.Entries[0].ParticipantID != "A" || lb.Entries[0].Score != 2 {
		t.Fatalf("expected A leading with 2, got %+v", lb.Entries[0])
	}
	if lb.Entries[1].ParticipantID != "B" || lb.Entries[1].Score != 1 {
		t.Fatalf("expected B second with 1, got %+v", lb.Entries[1])
	}
}

func TestTimeoutScoresNothingAndAdvances(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRoomStore()
	pools := memory.NewPoolRepository(memory.NewStaticPoolLoader(testPools()), time.Minute)
	service := app.NewRoomService(store, pools)
	code := seedRoom(t, store, twoQuestions())

	s := newTestSession(code, "A", "Alice", service, 3)
	s.ObserveRoom(ctx, snapshot(t, store, code))
	s.MarkReady(ctx)
	s.ObserveRoom(ctx, snapshot(t, store, code))
	if s.Phase() != app.PhaseQuestionActive {
		t.Fatalf("expected active question, got %s", s.Phase())
	}

	var evs []app.Event
	for i := 0; i < 3; i++ {
		evs = s.Tick(ctx)
	}
	res, ok := evs[0].(app.AnswerEvent)
	if !ok {
		t.Fatalf("expected answer event on timeout, got %T", evs[0])
	}
	if !res.TimedOut || res.Correct || res.Selected != app.NoSelection {
		t.Fatalf("expected timed-out incorrect result, got %+v", res)
	}
	if s.QuestionIndex() != 1 || s.Phase() != app.PhaseQuestionActive {
		t.Fatalf("expected automatic advance to question 1, got index=%d phase=%s", s.QuestionIndex(), s.Phase())
	}

	room := snapshot(t, store, code)
	p, _ := room.Participant("A")
	if p.Score != 0 {
		t.Fatalf("expected score unchanged, got %d", p.Score)
	}
}

func TestFirstSubmissionWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRoomStore()
	pools := memory.NewPoolRepository(memory.NewStaticPoolLoader(testPools()), time.Minute)
	service := app.NewRoomService(store, pools)
	code := seedRoom(t, store, twoQuestions())

	s := newTestSession(code, "A", "Alice", service, 30)
	s.ObserveRoom(ctx, snapshot(t, store, code))
	s.MarkReady(ctx)
	s.ObserveRoom(ctx, snapshot(t, store, code))

	// Out-of-range selections are ignored while the question stays live.
	if evs := s.SelectAnswer(ctx, 0, 7); evs != nil {
		t.Fatalf("expected out-of-range selection ignored, got %v", evs)
	}
	if s.Remaining() == 0 {
		t.Fatalf("countdown should still be live")
	}

	evs := s.SelectAnswer(ctx, 0, 1)
	if res := evs[0].(app.AnswerEvent); !res.Correct {
		t.Fatalf("expected first submission scored, got %+v", res)
	}
	// The machine is already on the next question; the old index is settled.
	if s.QuestionIndex() != 1 {
		t.Fatalf("expected index 1 after submission, got %d", s.QuestionIndex())
	}
}

// A double-clicked or retried submission arrives again after its question has
// settled and the next one has started. It names the settled question, so it
// must not count as a first answer for the new one.
func TestDuplicateSubmissionDoesNotScoreNextQuestion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRoomStore()
	pools := memory.NewPoolRepository(memory.NewStaticPoolLoader(testPools()), time.Minute)
	service := app.NewRoomService(store, pools)
	code := seedRoom(t, store, twoQuestions())

	s := newTestSession(code, "A", "Alice", service, 30)
	s.ObserveRoom(ctx, snapshot(t, store, code))
	s.MarkReady(ctx)
	s.ObserveRoom(ctx, snapshot(t, store, code))

	evs := s.SelectAnswer(ctx, 0, 1)
	if res := evs[0].(app.AnswerEvent); !res.Correct || res.Score != 1 {
		t.Fatalf("expected first frame scored, got %+v", res)
	}
	if s.QuestionIndex() != 1 {
		t.Fatalf("expected question 1 active, got %d", s.QuestionIndex())
	}

	// Identical frame replayed: question 0 is settled, question 1 untouched.
	if evs := s.SelectAnswer(ctx, 0, 1); evs != nil {
		t.Fatalf("expected duplicate frame ignored, got %v", evs)
	}
	if s.Phase() != app.PhaseQuestionActive || s.QuestionIndex() != 1 || s.Score() != 1 {
		t.Fatalf("duplicate frame altered session state: phase=%s index=%d score=%d",
			s.Phase(), s.QuestionIndex(), s.Score())
	}

	// Question 1 still takes its own first answer.
	evs = s.SelectAnswer(ctx, 1, 0)
	if done, ok := lastEvent(evs).(app.CompletedEvent); !ok || done.Correct != 2 {
		t.Fatalf("expected completion with 2 correct, got %+v", lastEvent(evs))
	}
}

func TestReadyIsSentOnce(t *testing.T) {
	ctx := context.Background()
	registry := &countingRegistry{}
	s := app.NewSession("ROOMCODE1", "A", "Alice", registry, 30, discardLogger(), app.WithDispatch(inline))

	s.ObserveRoom(ctx, domain.Room{Code: "ROOMCODE1", Participants: []domain.Participant{{ID: "A"}}})
	s.MarkReady(ctx)
	s.MarkReady(ctx)
	s.MarkReady(ctx)

	if registry.ready != 1 {
		t.Fatalf("expected exactly one ready write, got %d", registry.ready)
	}
}

func TestEmptyRoomNeverStarts(t *testing.T) {
	ctx := context.Background()
	registry := &countingRegistry{}
	s := app.NewSession("ROOMCODE1", "A", "Alice", registry, 30, discardLogger(), app.WithDispatch(inline))

	// A snapshot with no participants must not count as all-ready.
	s.ObserveRoom(ctx, domain.Room{Code: "ROOMCODE1"})
	s.ObserveRoom(ctx, domain.Room{Code: "ROOMCODE1"})
	if s.Phase() != app.PhaseWaitingRoom {
		t.Fatalf("expected waiting room on empty participants, got %s", s.Phase())
	}
}

func TestQuizStartsOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRoomStore()
	pools := memory.NewPoolRepository(memory.NewStaticPoolLoader(testPools()), time.Minute)
	service := app.NewRoomService(store, pools)
	code := seedRoom(t, store, twoQuestions())

	s := newTestSession(code, "A", "Alice", service, 30)
	s.ObserveRoom(ctx, snapshot(t, store, code))
	s.MarkReady(ctx)
	s.ObserveRoom(ctx, snapshot(t, store, code))
	if s.Phase() != app.PhaseQuestionActive {
		t.Fatalf("expected active question, got %s", s.Phase())
	}

	// A later echo of the all-ready document must not reset the countdown.
	s.Tick(ctx)
	remaining := s.Remaining()
	if evs := s.ObserveRoom(ctx, snapshot(t, store, code)); evs != nil {
		t.Fatalf("expected no events for post-start snapshot, got %v", evs)
	}
	if s.Remaining() != remaining {
		t.Fatalf("countdown was reset by a late snapshot")
	}
}

func TestRoomMissingIsTerminal(t *testing.T) {
	registry := &countingRegistry{}
	s := app.NewSession("NOROOM", "A", "Alice", registry, 30, discardLogger(), app.WithDispatch(inline))

	evs := s.RoomMissing()
	if _, ok := evs[0].(app.NotFoundEvent); !ok {
		t.Fatalf("expected not-found event, got %T", evs[0])
	}
	if s.Phase() != app.PhaseRoomNotFound {
		t.Fatalf("expected room-not-found phase, got %s", s.Phase())
	}
}

type countingRegistry struct {
	joins int
	ready int
	score int
}

func (r *countingRegistry) Join(context.Context, string, string, string) error {
	r.joins++
	return nil
}

func (r *countingRegistry) MarkReady(context.Context, string, string) error {
	r.ready++
	return nil
}

func (r *countingRegistry) AddScore(context.Context, string, string, int) error {
	r.score++
	return nil
}

func lastEvent(evs []app.Event) app.Event {
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

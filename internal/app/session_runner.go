package app

import (
	"context"
	"time"

	"quizroom-service/internal/domain"
)

// Subscriber is the read side of the room document store.
type Subscriber interface {
	Subscribe(ctx context.Context, code string) (<-chan domain.Room, func(), error)
}

type commandKind int

const (
	cmdReady commandKind = iota
	cmdAnswer
)

type command struct {
	kind   commandKind
	index  int
	option int
}

// Runner owns the single event loop around a Session: it multiplexes the
// store subscription, the once-per-tick countdown, and user commands onto the
// state machine and publishes the resulting events. One Runner per connected
// client.
type Runner struct {
	session  *Session
	sub      Subscriber
	code     string
	commands chan command
	events   chan Event

	// newTicker is swapped out in tests for a hand-driven tick channel.
	newTicker func() (<-chan time.Time, func())
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithTicker overrides the countdown tick source (test-only).
func WithTicker(newTicker func() (<-chan time.Time, func())) RunnerOption {
	return func(r *Runner) { r.newTicker = newTicker }
}

func NewRunner(session *Session, sub Subscriber, code string, opts ...RunnerOption) *Runner {
	r := &Runner{
		session:  session,
		sub:      sub,
		code:     code,
		commands: make(chan command, 8),
		events:   make(chan Event, 16),
		newTicker: func() (<-chan time.Time, func()) {
			t := time.NewTicker(time.Second)
			return t.C, t.Stop
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events is the stream of session events. It is closed when Run returns.
func (r *Runner) Events() <-chan Event { return r.events }

// Ready enqueues this client's readiness signal.
func (r *Runner) Ready() {
	select {
	case r.commands <- command{kind: cmdReady}:
	default:
	}
}

// Answer enqueues an answer submission for the question at index.
func (r *Runner) Answer(index, option int) {
	select {
	case r.commands <- command{kind: cmdAnswer, index: index, option: option}:
	default:
	}
}

// Run blocks until the session reaches a terminal phase or ctx is canceled.
// All state machine inputs are serialized here; the countdown keeps ticking
// while registry writes are in flight.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.events)

	updates, cancel, err := r.sub.Subscribe(ctx, r.code)
	if err != nil {
		if err == domain.ErrRoomNotFound {
			r.emit(ctx, r.session.RoomMissing())
			return nil
		}
		return err
	}
	defer cancel()

	tick, stopTick := r.newTicker()
	defer stopTick()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case room, ok := <-updates:
			if !ok {
				return nil
			}
			r.emit(ctx, r.session.ObserveRoom(ctx, room))
		case <-tick:
			r.emit(ctx, r.session.Tick(ctx))
		case cmd := <-r.commands:
			switch cmd.kind {
			case cmdReady:
				r.emit(ctx, r.session.MarkReady(ctx))
			case cmdAnswer:
				r.emit(ctx, r.session.SelectAnswer(ctx, cmd.index, cmd.option))
			}
		}
		if r.session.Phase() == PhaseCompleted || r.session.Phase() == PhaseRoomNotFound {
			return nil
		}
	}
}

func (r *Runner) emit(ctx context.Context, events []Event) {
	for _, ev := range events {
		select {
		case r.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

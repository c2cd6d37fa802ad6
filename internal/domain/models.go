package domain

import "time"

// RoomStatus is an advisory lifecycle marker. Nothing enforces transitions;
// each client derives its own phase from participant readiness.
type RoomStatus string

const (
	StatusWaiting   RoomStatus = "waiting"
	StatusStarted   RoomStatus = "started"
	StatusCompleted RoomStatus = "completed"
)

// Question is a single multiple-choice question. CorrectAnswer indexes Options.
type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
}

// Participant is one client's identity and progress inside a room.
// Score is self-reported by the owning client and never decreases.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Score int    `json:"score"`
	Ready bool   `json:"ready"`
}

// Room is the shared document coordinating one multiplayer quiz session.
// Questions are fixed at creation; Participants is the only field mutated
// afterwards.
type Room struct {
	Code         string        `json:"code"`
	RoomName     string        `json:"roomName"`
	Topic        string        `json:"topic"`
	NumStudents  int           `json:"numStudents"`
	NumQuestions int           `json:"numQuestions"`
	Questions    []Question    `json:"questions"`
	Participants []Participant `json:"participants"`
	Status       RoomStatus    `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Participant returns the entry for id, if present.
func (r Room) Participant(id string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// AllReady reports whether every participant has flagged readiness.
// An empty room is never "all ready".
func (r Room) AllReady() bool {
	if len(r.Participants) == 0 {
		return false
	}
	for _, p := range r.Participants {
		if !p.Ready {
			return false
		}
	}
	return true
}

// ReadyCount returns how many participants have flagged readiness.
func (r Room) ReadyCount() int {
	n := 0
	for _, p := range r.Participants {
		if p.Ready {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so stores can hand out snapshots without
// sharing backing slices with callers.
func (r Room) Clone() Room {
	out := r
	if r.Questions != nil {
		out.Questions = make([]Question, len(r.Questions))
		for i, q := range r.Questions {
			out.Questions[i] = q
			out.Questions[i].Options = append([]string(nil), q.Options...)
		}
	}
	if r.Participants != nil {
		out.Participants = append([]Participant(nil), r.Participants...)
	}
	return out
}

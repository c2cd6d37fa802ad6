package domain

import "errors"

var (
	// ErrRoomNotFound is returned when no room document exists for a code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExists is returned when a room code is already taken at creation.
	ErrRoomExists = errors.New("room already exists")
	// ErrParticipantNotFound is returned when a participant acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrPoolNotFound indicates there is no question pool for a topic.
	ErrPoolNotFound = errors.New("question pool not found")
	// ErrEmptyPool indicates a topic pool has no questions to draw from.
	ErrEmptyPool = errors.New("question pool is empty")
)

package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room code does not resolve.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomInactive is returned when joining or acting on a deactivated room.
	ErrRoomInactive = errors.New("room is no longer active")
	// ErrParticipantNotFound is returned when a participant acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrForbidden is returned when a non-host attempts a host-only action,
	// or the host attempts to remove themselves.
	ErrForbidden = errors.New("action restricted to the room host")
	// ErrNoPhrase is returned on submission while no phrase is assigned.
	ErrNoPhrase = errors.New("no phrase assigned")
	// ErrInputLocked is returned on submission during the countdown window.
	ErrInputLocked = errors.New("input locked during countdown")
	// ErrEmptyPhraseList is returned when advancing with no candidate phrases.
	ErrEmptyPhraseList = errors.New("phrase list is empty")
	// ErrPhraseSetNotFound indicates the phrase content could not be loaded.
	ErrPhraseSetNotFound = errors.New("phrase set not found")
	// ErrBackendUnavailable indicates the persistence collaborator failed.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

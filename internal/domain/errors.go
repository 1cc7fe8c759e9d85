package domain

import "errors"

var (
	// ErrNotHost is returned when a non-host tries a host-only operation.
	ErrNotHost = errors.New("only the host can do that")
	// ErrNotInRoom is returned when an operation needs an open room.
	ErrNotInRoom = errors.New("not in a room")
	// ErrAlreadyInRoom is returned when creating or joining while a room is open.
	ErrAlreadyInRoom = errors.New("already in a room")
	// ErrRoomNotFound indicates no host answered a join request in time.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull indicates the host rejected a join because the squad is full.
	ErrRoomFull = errors.New("room is full")
	// ErrHostLost is reported when the host stops sending heartbeats.
	ErrHostLost = errors.New("host stopped responding")
	// ErrInvalidPhase indicates the operation is not allowed in the current view/phase.
	ErrInvalidPhase = errors.New("operation not allowed in current phase")
	// ErrAnswersPending blocks round advance while someone still has to answer.
	ErrAnswersPending = errors.New("waiting for players to answer")
	// ErrAlreadyAnswered is returned for a second answer in the same round.
	ErrAlreadyAnswered = errors.New("answer already submitted")
	// ErrEliminated is returned when an eliminated player tries to answer.
	ErrEliminated = errors.New("player is eliminated")
	// ErrInvalidChoice indicates the submitted choice index is out of range.
	ErrInvalidChoice = errors.New("choice out of range")
	// ErrNotEnoughPlayers blocks starting a game below the minimum squad size.
	ErrNotEnoughPlayers = errors.New("not enough players")
	// ErrPlayerNotFound is returned when a player is not part of the roster.
	ErrPlayerNotFound = errors.New("player not found in room")
	// ErrNoIdentity is returned when no session identity is available.
	ErrNoIdentity = errors.New("no session identity")
	// ErrProfileNotFound indicates the profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrSelfFriend is returned when a user tries to befriend themselves.
	ErrSelfFriend = errors.New("cannot add yourself as a friend")
	// ErrSetupRequired indicates the profile store is missing its tables.
	ErrSetupRequired = errors.New("profile store setup required")
	// ErrInvalidQuestion indicates a generated question violates the round contract.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrQuestionNotFound indicates the question bank has nothing for a topic.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidToken is returned for unparsable or expired identity tokens.
	ErrInvalidToken = errors.New("invalid identity token")
	// ErrForbiddenChannel is returned when subscribing to another user's channel.
	ErrForbiddenChannel = errors.New("channel not allowed")
	// ErrTransportClosed is returned when using a closed transport.
	ErrTransportClosed = errors.New("transport closed")
)

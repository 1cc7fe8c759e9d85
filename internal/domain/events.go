package domain

// Event names broadcast on room and user channels.
const (
	EventSyncState     = "SYNC_STATE"
	EventJoinRequest   = "JOIN_REQUEST"
	EventJoinRejected  = "JOIN_REJECTED"
	EventPlayerLeft    = "PLAYER_LEFT"
	EventRoomClosed    = "ROOM_CLOSED"
	EventSubmitAnswer  = "SUBMIT_ANSWER"
	EventChatMessage   = "CHAT_MESSAGE"
	EventSquadInvite   = "SQUAD_INVITE"
	EventHostHeartbeat = "HOST_HEARTBEAT"
)

// StatePatch is a partial GameState. Nil fields are left untouched by a merge.
type StatePatch struct {
	RoomCode        *string     `json:"roomCode,omitempty"`
	View            *View       `json:"view,omitempty"`
	Phase           *Phase      `json:"phase,omitempty"`
	Players         []Player    `json:"players,omitempty"`
	CurrentRound    *int        `json:"currentRound,omitempty"`
	MaxRounds       *int        `json:"maxRounds,omitempty"`
	CurrentQuestion *StoryNode  `json:"currentQuestion,omitempty"`
	Difficulty      *Difficulty `json:"difficulty,omitempty"`
	GameMode        *GameMode   `json:"gameMode,omitempty"`
	CustomTopic     *string     `json:"customTopic,omitempty"`
}

// FullPatch captures every field of s so a merge replaces the whole record.
func FullPatch(s GameState) StatePatch {
	players := make([]Player, len(s.Players))
	copy(players, s.Players)
	p := StatePatch{
		View:         &s.View,
		Phase:        &s.Phase,
		Players:      players,
		CurrentRound: &s.CurrentRound,
		MaxRounds:    &s.MaxRounds,
		Difficulty:   &s.Difficulty,
		GameMode:     &s.GameMode,
		CustomTopic:  &s.CustomTopic,
	}
	if s.RoomCode != nil {
		code := *s.RoomCode
		p.RoomCode = &code
	}
	if s.CurrentQuestion != nil {
		q := *s.CurrentQuestion
		p.CurrentQuestion = &q
	}
	return p
}

// JoinRequest is sent by a joining client.
type JoinRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// JoinRejected tells a joining client the host refused it.
type JoinRejected struct {
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason"`
}

// PlayerLeft is sent by a client leaving the room.
type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

// SubmitAnswer is the answer intent routed to the host. IsCorrect is advisory only.
type SubmitAnswer struct {
	PlayerID  string `json:"playerId"`
	Idx       int    `json:"idx"`
	IsCorrect bool   `json:"isCorrect"`
}

// SquadInvite is delivered on the target's user channel.
type SquadInvite struct {
	RoomCode   string `json:"roomCode"`
	SenderName string `json:"senderName"`
}

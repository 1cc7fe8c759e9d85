package domain

import (
	"strings"
	"time"
)

// View is the coarse phase of a client.
type View string

const (
	ViewWelcome  View = "Welcome"
	ViewLobby    View = "Lobby"
	ViewPlaying  View = "Playing"
	ViewGameOver View = "GameOver"
)

// Phase is the sub-state of ViewPlaying.
type Phase string

const (
	PhaseQuestion    Phase = "Question"
	PhaseResults     Phase = "Results"
	PhaseLeaderboard Phase = "Leaderboard"
)

// Difficulty selects the hp penalty for a wrong answer.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Fácil"
	DifficultyMedium Difficulty = "Médio"
	DifficultyHard   Difficulty = "Difícil"
)

// Penalty returns the hp lost on a wrong answer. Unknown values use the medium penalty.
func (d Difficulty) Penalty() int {
	switch d {
	case DifficultyEasy:
		return 15
	case DifficultyHard:
		return 40
	default:
		return 25
	}
}

// GameMode decides the shape of the generated questions.
type GameMode string

const (
	ModeQuiz      GameMode = "Quiz"
	ModeTrueFalse GameMode = "TrueFalse"
)

// ChoiceCount is the number of choices a question must carry in this mode.
func (m GameMode) ChoiceCount() int {
	if m == ModeTrueFalse {
		return 2
	}
	return 4
}

const (
	MaxHP         = 100
	CorrectReward = 100
	MaxSquadSize  = 4
	DefaultRounds = 5
)

// Player is one participant of a room.
type Player struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar,omitempty"`
	IsHost        bool   `json:"isHost"`
	HP            int    `json:"hp"`
	Score         int    `json:"score"`
	HasAnswered   bool   `json:"hasAnswered"`
	LastAnswerIdx *int   `json:"lastAnswerIdx"`
}

// Eliminated reports whether the player has no hp left.
func (p Player) Eliminated() bool {
	return p.HP <= 0
}

// StoryNode is one generated question.
type StoryNode struct {
	Text               string   `json:"text"`
	Choices            []string `json:"choices"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	ImageURL           string   `json:"imageUrl,omitempty"`
}

// GameState is the shared room record. Only the host's copy is authoritative.
type GameState struct {
	RoomCode        *string    `json:"roomCode"`
	View            View       `json:"view"`
	Phase           Phase      `json:"phase,omitempty"`
	Players         []Player   `json:"players"`
	CurrentRound    int        `json:"currentRound"`
	MaxRounds       int        `json:"maxRounds"`
	CurrentQuestion *StoryNode `json:"currentQuestion"`
	Difficulty      Difficulty `json:"difficulty"`
	GameMode        GameMode   `json:"gameMode"`
	CustomTopic     string     `json:"customTopic,omitempty"`
}

// ChatMessage is one line of the room chat.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// Invite is a pending squad invite received on the user channel.
type Invite struct {
	RoomCode   string    `json:"roomCode"`
	SenderName string    `json:"senderName"`
	ReceivedAt time.Time `json:"-"`
}

// Identity is the local user, either an account or an ephemeral guest.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Guest  bool   `json:"guest"`
}

// Profile is the persisted public record of an account.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar,omitempty"`
	Score     int64     `json:"score"`
	Wins      int       `json:"wins"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RankingEntry is a row of the global ranking.
type RankingEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int64  `json:"score"`
	Wins  int    `json:"wins"`
}

// QuestionRequest carries the round parameters sent to the question generator.
type QuestionRequest struct {
	Round      int        `json:"round"`
	Difficulty Difficulty `json:"difficulty"`
	Mode       GameMode   `json:"mode"`
	Topic      string     `json:"topic,omitempty"`
}

// GeneralTopic is the question bank key used when a room has no custom topic.
const GeneralTopic = "geral"

// TopicKey normalizes a room topic into a question bank key.
func TopicKey(topic string) string {
	key := strings.ToLower(strings.TrimSpace(topic))
	if key == "" {
		return GeneralTopic
	}
	return key
}

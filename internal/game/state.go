package game

import (
	"crypto/rand"
	"fmt"

	"quiz-squad/internal/domain"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// CodeLength is the number of characters in a room code.
const CodeLength = 4

// NewRoomCode returns a random uppercase base-36 room code.
func NewRoomCode() string {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	out := make([]byte, CodeLength)
	for i := range out {
		out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(out)
}

// InitialState is the Welcome state every client starts from.
func InitialState() domain.GameState {
	return domain.GameState{
		View:    domain.ViewWelcome,
		Players: []domain.Player{},
	}
}

// Clone deep-copies a state so callers cannot alias the coordinator's record.
func Clone(s domain.GameState) domain.GameState {
	out := s
	out.Players = clonePlayers(s.Players)
	if s.RoomCode != nil {
		code := *s.RoomCode
		out.RoomCode = &code
	}
	if s.CurrentQuestion != nil {
		q := *s.CurrentQuestion
		q.Choices = append([]string(nil), s.CurrentQuestion.Choices...)
		out.CurrentQuestion = &q
	}
	return out
}

// Merge applies the non-nil fields of p over s. Applying the same patch twice
// yields the same state as applying it once.
func Merge(s domain.GameState, p domain.StatePatch) domain.GameState {
	out := Clone(s)
	if p.RoomCode != nil {
		code := *p.RoomCode
		out.RoomCode = &code
	}
	if p.View != nil {
		out.View = *p.View
	}
	if p.Phase != nil {
		out.Phase = *p.Phase
	}
	if p.Players != nil {
		out.Players = clonePlayers(p.Players)
	}
	if p.CurrentRound != nil {
		out.CurrentRound = *p.CurrentRound
	}
	if p.MaxRounds != nil {
		out.MaxRounds = *p.MaxRounds
	}
	if p.CurrentQuestion != nil {
		q := *p.CurrentQuestion
		q.Choices = append([]string(nil), p.CurrentQuestion.Choices...)
		out.CurrentQuestion = &q
	}
	if p.Difficulty != nil {
		out.Difficulty = *p.Difficulty
	}
	if p.GameMode != nil {
		out.GameMode = *p.GameMode
	}
	if p.CustomTopic != nil {
		out.CustomTopic = *p.CustomTopic
	}
	return out
}

// IndexOf returns the roster position of id, or -1.
func IndexOf(players []domain.Player, id string) int {
	for i := range players {
		if players[i].ID == id {
			return i
		}
	}
	return -1
}

// HostOf returns the host entry of a roster.
func HostOf(players []domain.Player) (domain.Player, bool) {
	for _, p := range players {
		if p.IsHost {
			return p, true
		}
	}
	return domain.Player{}, false
}

// ActiveCount counts players with hp left.
func ActiveCount(players []domain.Player) int {
	n := 0
	for _, p := range players {
		if !p.Eliminated() {
			n++
		}
	}
	return n
}

// AllAnswered reports whether every non-eliminated player has answered.
func AllAnswered(players []domain.Player) bool {
	for _, p := range players {
		if !p.Eliminated() && !p.HasAnswered {
			return false
		}
	}
	return true
}

// AddPlayer appends a joining player. Joining twice is a no-op; the bool
// reports whether the roster changed.
func AddPlayer(s domain.GameState, req domain.JoinRequest) (domain.GameState, bool, error) {
	if IndexOf(s.Players, req.ID) >= 0 {
		return s, false, nil
	}
	if len(s.Players) >= domain.MaxSquadSize {
		return s, false, domain.ErrRoomFull
	}
	out := Clone(s)
	p := domain.Player{
		ID:     req.ID,
		Name:   req.Name,
		Avatar: req.Avatar,
		HP:     domain.MaxHP,
	}
	// a player joining mid-round sits the current question out
	if out.View == domain.ViewPlaying {
		p.HasAnswered = true
	}
	out.Players = append(out.Players, p)
	return out, true, nil
}

// RemovePlayer drops a non-host player from the roster.
func RemovePlayer(s domain.GameState, id string) (domain.GameState, bool) {
	idx := IndexOf(s.Players, id)
	if idx < 0 || s.Players[idx].IsHost {
		return s, false
	}
	out := Clone(s)
	out.Players = append(out.Players[:idx], out.Players[idx+1:]...)
	if out.View != domain.ViewPlaying {
		return out, true
	}
	if ActiveCount(out.Players) == 0 {
		return EndGame(out), true
	}
	if out.Phase == domain.PhaseQuestion && AllAnswered(out.Players) {
		out.Phase = domain.PhaseResults
	}
	return out, true
}

// BeginGame resets every player and opens round 1 with q.
func BeginGame(s domain.GameState, q domain.StoryNode) domain.GameState {
	out := Clone(s)
	for i := range out.Players {
		out.Players[i].HP = domain.MaxHP
		out.Players[i].Score = 0
		out.Players[i].HasAnswered = false
		out.Players[i].LastAnswerIdx = nil
	}
	out.View = domain.ViewPlaying
	out.Phase = domain.PhaseQuestion
	out.CurrentRound = 1
	out.CurrentQuestion = &q
	return out
}

// NextRound clears per-round answers and opens the following round with q.
func NextRound(s domain.GameState, q domain.StoryNode) domain.GameState {
	out := Clone(s)
	for i := range out.Players {
		out.Players[i].HasAnswered = false
		out.Players[i].LastAnswerIdx = nil
	}
	out.CurrentRound++
	out.Phase = domain.PhaseQuestion
	out.CurrentQuestion = &q
	return out
}

// ShouldEnd reports whether advancing from s ends the game.
func ShouldEnd(s domain.GameState) bool {
	return s.CurrentRound+1 > s.MaxRounds || ActiveCount(s.Players) == 0
}

// EndGame moves s to GameOver.
func EndGame(s domain.GameState) domain.GameState {
	out := Clone(s)
	out.View = domain.ViewGameOver
	out.Phase = domain.PhaseLeaderboard
	return out
}

// ApplyAnswer scores one answer for playerID. Correct answers add the fixed
// reward; wrong answers cost the difficulty penalty, floored at zero hp. The
// game ends on the answer that leaves nobody with hp.
func ApplyAnswer(s domain.GameState, playerID string, idx int) (domain.GameState, bool, error) {
	if s.View != domain.ViewPlaying || s.Phase != domain.PhaseQuestion || s.CurrentQuestion == nil {
		return s, false, domain.ErrInvalidPhase
	}
	i := IndexOf(s.Players, playerID)
	if i < 0 {
		return s, false, domain.ErrPlayerNotFound
	}
	p := s.Players[i]
	if p.Eliminated() {
		return s, false, domain.ErrEliminated
	}
	if p.HasAnswered {
		return s, false, domain.ErrAlreadyAnswered
	}
	if idx < 0 || idx >= len(s.CurrentQuestion.Choices) {
		return s, false, domain.ErrInvalidChoice
	}

	correct := idx == s.CurrentQuestion.CorrectAnswerIndex
	out := Clone(s)
	player := &out.Players[i]
	player.HasAnswered = true
	answer := idx
	player.LastAnswerIdx = &answer
	if correct {
		player.Score += domain.CorrectReward
	} else {
		player.HP = max(0, player.HP-out.Difficulty.Penalty())
	}
	if ActiveCount(out.Players) == 0 {
		return EndGame(out), correct, nil
	}
	if AllAnswered(out.Players) {
		out.Phase = domain.PhaseResults
	}
	return out, correct, nil
}

// ValidateQuestion checks a generated question against the round contract.
func ValidateQuestion(q domain.StoryNode, mode domain.GameMode) error {
	if q.Text == "" {
		return fmt.Errorf("%w: empty text", domain.ErrInvalidQuestion)
	}
	if want := mode.ChoiceCount(); len(q.Choices) != want {
		return fmt.Errorf("%w: %d choices, want %d", domain.ErrInvalidQuestion, len(q.Choices), want)
	}
	if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Choices) {
		return fmt.Errorf("%w: correct index %d out of range", domain.ErrInvalidQuestion, q.CorrectAnswerIndex)
	}
	return nil
}

// PlaceholderQuestion keeps a round playable when generation fails.
func PlaceholderQuestion(mode domain.GameMode) domain.StoryNode {
	if mode == domain.ModeTrueFalse {
		return domain.StoryNode{
			Text:               "Sinal perdido com a central! Responda para manter o squad em movimento: o Booyah vem para quem não desiste?",
			Choices:            []string{"Verdadeiro", "Falso"},
			CorrectAnswerIndex: 0,
		}
	}
	return domain.StoryNode{
		Text:               "Sinal perdido com a central! Qual é a prioridade ao cair no mapa?",
		Choices:            []string{"Pegar armamento", "Ficar parado", "Correr para a zona de gás", "Desligar o rádio"},
		CorrectAnswerIndex: 0,
	}
}

func clonePlayers(players []domain.Player) []domain.Player {
	out := make([]domain.Player, len(players))
	for i, p := range players {
		if p.LastAnswerIdx != nil {
			idx := *p.LastAnswerIdx
			p.LastAnswerIdx = &idx
		}
		out[i] = p
	}
	return out
}

package domain

import "time"

const (
	// TotalMessages is the per-game budget of player turns.
	TotalMessages = 5

	// ProgressTarget is the objective progress required for victory.
	ProgressTarget = 100

	// MessageCooldown is the minimum wall-clock gap between turn starts.
	MessageCooldown = time.Second
)

// GameStatus is the state-machine position of a session. Victory and defeat
// are terminal; only an explicit reset returns a session to playing.
type GameStatus string

const (
	StatusPlaying GameStatus = "playing"
	StatusVictory GameStatus = "victory"
	StatusDefeat  GameStatus = "defeat"
)

// GameState is the aggregate root owned by one session. The turn service is
// its sole writer; all mutations go through the methods below.
//
// Epoch is the storage generation of the message history. Resets bump it so
// a fresh game never reads the previous game's messages.
type GameState struct {
	SessionID         string
	RemainingMessages int
	MessageHistory    []Message
	Status            GameStatus
	ObjectiveProgress int
	Objective         GameObjective
	LastMessageAt     time.Time
	Epoch             int

	// Transient per-invocation fields, never persisted.
	IsLoading bool
	Error     string
}

// NewGameState initializes a fresh aggregate for a session.
func NewGameState(sessionID string, objective GameObjective) *GameState {
	return &GameState{
		SessionID:         sessionID,
		RemainingMessages: TotalMessages,
		Status:            StatusPlaying,
		Objective:         objective,
	}
}

// CanSendMessage reports whether a new player turn may start. Always false
// once the session is terminal.
func (g *GameState) CanSendMessage() bool {
	return g.Status == StatusPlaying && g.RemainingMessages > 0
}

// IsRateLimited reports whether a turn started less than MessageCooldown ago.
func (g *GameState) IsRateLimited(now time.Time) bool {
	return !g.LastMessageAt.IsZero() && now.Sub(g.LastMessageAt) < MessageCooldown
}

// RateLimitedUntil is the earliest instant the next turn may start.
func (g *GameState) RateLimitedUntil() time.Time {
	if g.LastMessageAt.IsZero() {
		return time.Time{}
	}
	return g.LastMessageAt.Add(MessageCooldown)
}

// Append adds a message to the history. User messages are dropped once the
// session is terminal; the AI reply of the final turn still lands even when
// the spend that started the turn exhausted the budget.
func (g *GameState) Append(msg Message) bool {
	if msg.Sender == SenderUser && g.Status != StatusPlaying {
		return false
	}
	g.MessageHistory = append(g.MessageHistory, msg)
	return true
}

// SpendMessage consumes one message from the budget.
func (g *GameState) SpendMessage() {
	if g.RemainingMessages > 0 {
		g.RemainingMessages--
	}
}

// RefundMessage restores a spent message after a transport-level failure.
// A defeat entered when that spend emptied the budget is reverted: the turn
// never reached the server, so the game is still in play.
func (g *GameState) RefundMessage() {
	if g.RemainingMessages >= TotalMessages {
		return
	}
	g.RemainingMessages++
	if g.Status == StatusDefeat && g.ObjectiveProgress < ProgressTarget {
		g.Status = StatusPlaying
	}
}

// ApplyProgress adds a signed delta to the objective progress, clamped to
// [0, ProgressTarget]. Out-of-range deltas are never an error.
func (g *GameState) ApplyProgress(delta int) {
	g.ObjectiveProgress += delta
	if g.ObjectiveProgress < 0 {
		g.ObjectiveProgress = 0
	}
	if g.ObjectiveProgress > ProgressTarget {
		g.ObjectiveProgress = ProgressTarget
	}
}

// EvaluateEndConditions runs the end-of-turn transition rule. Victory is
// checked first, so reaching the target on the final message wins even
// though the budget hit zero in the same turn.
func (g *GameState) EvaluateEndConditions() {
	if g.ObjectiveProgress >= ProgressTarget {
		g.Status = StatusVictory
		return
	}
	if g.RemainingMessages == 0 {
		g.Status = StatusDefeat
	}
}

// Reset reinitializes the aggregate for a new game with the given objective,
// bumping the storage epoch so the old history is abandoned.
func (g *GameState) Reset(objective GameObjective) {
	g.RemainingMessages = TotalMessages
	g.MessageHistory = nil
	g.Status = StatusPlaying
	g.ObjectiveProgress = 0
	g.Objective = objective
	g.LastMessageAt = time.Time{}
	g.Epoch++
	g.IsLoading = false
	g.Error = ""
}

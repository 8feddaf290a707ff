package domain

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// TurnOutcome is the dual-layer enrichment attached to an AI message: the
// dice roll that framed the reply, what the character decided to do, and the
// timeline evaluator's verdict. The five fields are only ever persisted
// together; a turn that fails partway leaves no enrichment behind.
type TurnOutcome struct {
	DiceRoll        int
	DiceOutcome     string
	CharacterAction string
	TimelineImpact  string
	ProgressChange  int
}

// Message is one entry in a game's history. User and system messages carry
// text only; AI messages produced by a completed turn carry a TurnOutcome.
type Message struct {
	Text      string
	Sender    Sender
	Timestamp time.Time
	Outcome   *TurnOutcome
}

// NewUserMessage builds a plain player message.
func NewUserMessage(text string, at time.Time) Message {
	return Message{Text: text, Sender: SenderUser, Timestamp: at}
}

// NewAIMessage builds an enriched character reply.
func NewAIMessage(text string, at time.Time, outcome TurnOutcome) Message {
	return Message{Text: text, Sender: SenderAI, Timestamp: at, Outcome: &outcome}
}

// Enriched reports whether the message carries dual-layer turn data.
func (m Message) Enriched() bool {
	return m.Outcome != nil
}

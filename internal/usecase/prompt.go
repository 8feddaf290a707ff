package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"timeline-agent/internal/dice"
	"timeline-agent/internal/domain"
)

// characterReply is the structured pair the character collaborator returns:
// what the figure says aloud and what they decide to do.
type characterReply struct {
	Message string `json:"message"`
	Action  string `json:"action"`
}

// timelineVerdict is the timeline collaborator's evaluation of the turn.
type timelineVerdict struct {
	Impact         string `json:"impact"`
	ProgressChange int    `json:"progress_change"`
}

const characterReplySchemaName = "character_reply"

var characterReplySchema = json.RawMessage(`{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"message":{"type":"string"},
		"action":{"type":"string"}
	},
	"required":["message","action"]
}`)

const timelineVerdictSchemaName = "timeline_verdict"

var timelineVerdictSchema = json.RawMessage(`{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"impact":{"type":"string"},
		"progress_change":{"type":"integer"}
	},
	"required":["impact","progress_change"]
}`)

// buildCharacterMessages assembles the prompt for the character collaborator:
// the figure's profile, the dice-outcome directive, the prior non-system
// conversation, and the player's current message.
func buildCharacterMessages(profile string, outcome dice.Outcome, history []domain.Message, userText string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: profile},
		{Role: "system", Content: outcomeDirective(outcome)},
	}
	for _, m := range history {
		messages = append(messages, historyToPromptMessages(m)...)
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: userText})
	return messages
}

// defaultCharacterProfile is used when no character_profile parameter is
// configured in SSM.
func defaultCharacterProfile() string {
	return strings.Join([]string{
		"You are a historical figure responding to messages from a time traveler trying to change history.",
		"",
		"Character: Franz Ferdinand, Archduke of Austria-Hungary",
		"Time Period: 1913-1914",
		"Location: Vienna, Austria-Hungary",
		"",
		"Someone is trying to prevent World War I by sending you messages about future events.",
		"The year is 1914 and tensions are rising across Europe.",
		"",
		"Character Traits:",
		"- Heir to the Austro-Hungarian throne",
		"- Pragmatic and thoughtful leader",
		"- Interested in reform and modernization",
		"- Concerned about rising nationalism",
		"- Values diplomatic solutions",
		"",
		"Instructions:",
		"- Respond as Franz Ferdinand would, considering his personality, knowledge, and the historical context.",
		"- Be skeptical but not dismissive of unusual information.",
		"- You are living in 1914 and do not know what will happen next.",
		"",
		"Output Contract:",
		"Return JSON only with keys message (string) and action (string).",
		"message is what you say in reply, at most 160 characters.",
		"action is what you decide to do as a result of this exchange, distinct from what you say.",
	}, "\n")
}

// outcomeDirective steers how favorably the character receives the message,
// keyed on the turn's dice tier.
func outcomeDirective(outcome dice.Outcome) string {
	var steer string
	switch outcome {
	case dice.CriticalFailure:
		steer = "You deeply distrust this message. React badly: take an action that works against the sender's intent."
	case dice.Failure:
		steer = "You are unconvinced. Dismiss the message or act half-heartedly against it."
	case dice.Neutral:
		steer = "You are uncertain. Respond cautiously and take only a tentative, reversible action."
	case dice.Success:
		steer = "You find the message credible. Act on it with genuine commitment."
	case dice.CriticalSuccess:
		steer = "You are profoundly moved. Act decisively and immediately in the sender's favor."
	}
	return fmt.Sprintf("Reception of this message: %s\n%s", outcome, steer)
}

// historyToPromptMessages maps a stored game message onto chat roles.
// System messages are UI furniture and never reach the model.
func historyToPromptMessages(m domain.Message) []domain.ChatMessage {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil
	}
	switch m.Sender {
	case domain.SenderUser:
		return []domain.ChatMessage{{Role: "user", Content: text}}
	case domain.SenderAI:
		return []domain.ChatMessage{{Role: "assistant", Content: text}}
	default:
		return nil
	}
}

// buildTimelineMessages assembles the prompt for the timeline collaborator.
// It runs after the character call because the verdict is conditioned on the
// action the character actually chose.
func buildTimelineMessages(roll int, outcome dice.Outcome, reply characterReply, userText, objectiveTitle string) []domain.ChatMessage {
	system := strings.Join([]string{
		"You are the timeline arbiter of a historical strategy game.",
		fmt.Sprintf("The player's objective is: %q.", objectiveTitle),
		"Given what the player wrote, how the dice fell, and what the historical figure decided to do,",
		"judge how the timeline shifts toward or away from the objective.",
		"",
		"Progress bands by dice tier:",
		"- Critical Success: +20 to +35",
		"- Success: +10 to +20",
		"- Neutral: -5 to +10",
		"- Failure: -15 to -5",
		"- Critical Failure: -30 to -15",
		"",
		"Output Contract:",
		"Return JSON only with keys impact (string) and progress_change (integer).",
		"impact is a one or two sentence narrative of the historical consequence.",
	}, "\n")

	user := strings.Join([]string{
		fmt.Sprintf("Dice roll: %d (%s)", roll, outcome),
		fmt.Sprintf("Player message: %s", userText),
		fmt.Sprintf("Figure's spoken reply: %s", reply.Message),
		fmt.Sprintf("Figure's chosen action: %s", reply.Action),
	}, "\n")

	return []domain.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// parseCharacterReply decodes the character collaborator's output. Both
// fields must be present and non-empty: an incomplete structured result is
// a failure, never a partially enriched turn.
func parseCharacterReply(raw string) (characterReply, error) {
	var out characterReply
	if err := decodeStrict(raw, &out); err != nil {
		return characterReply{}, fmt.Errorf("usecase: decode character reply: %w", err)
	}
	if strings.TrimSpace(out.Message) == "" || strings.TrimSpace(out.Action) == "" {
		return characterReply{}, errors.New("usecase: character reply missing message or action")
	}
	return out, nil
}

// parseTimelineVerdict decodes the timeline collaborator's output.
func parseTimelineVerdict(raw string) (timelineVerdict, error) {
	var out timelineVerdict
	if err := decodeStrict(raw, &out); err != nil {
		return timelineVerdict{}, fmt.Errorf("usecase: decode timeline verdict: %w", err)
	}
	if strings.TrimSpace(out.Impact) == "" {
		return timelineVerdict{}, errors.New("usecase: timeline verdict missing impact")
	}
	return out, nil
}

// decodeStrict parses exactly one JSON value with no unknown fields and no
// trailing data.
func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("multiple JSON values")
		}
		return fmt.Errorf("trailing data: %w", err)
	}
	return nil
}

// truncateMessage caps the character's spoken line at limit characters,
// ending with an ellipsis. Counted in runes so a multibyte reply is never
// split mid-character.
func truncateMessage(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-3]) + "..."
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"timeline-agent/internal/domain"
)

const objectiveSchemaName = "game_objective"

var objectiveSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {
			"type": "string",
			"description": "Short imperative objective title, e.g. 'Prevent World War I'"
		},
		"success_criteria": {
			"type": "string",
			"description": "One sentence describing what the player must convince the character to do"
		},
		"historical_context": {
			"type": "string",
			"description": "One or two sentences situating the objective in June 1914"
		},
		"difficulty": {
			"type": "string",
			"enum": ["easy", "medium", "hard"]
		}
	},
	"required": ["title", "success_criteria", "historical_context", "difficulty"],
	"additionalProperties": false
}`)

type objectivePayload struct {
	Title             string `json:"title"`
	SuccessCriteria   string `json:"success_criteria"`
	HistoricalContext string `json:"historical_context"`
	Difficulty        string `json:"difficulty"`
}

func buildObjectiveMessages() []domain.ChatMessage {
	return []domain.ChatMessage{
		{
			Role: "system",
			Content: "You design objectives for a historical persuasion game set in June 1914. " +
				"The player exchanges a handful of messages with Archduke Franz Ferdinand and " +
				"must steer history away from catastrophe. Produce one playable objective the " +
				"player can plausibly influence through conversation with the Archduke alone. " +
				"Respond with JSON matching the provided schema.",
		},
		{
			Role:    "user",
			Content: "Generate a fresh objective for a new game.",
		},
	}
}

func parseObjective(raw string) (domain.GameObjective, error) {
	var payload objectivePayload
	if err := decodeStrict(raw, &payload); err != nil {
		return domain.GameObjective{}, fmt.Errorf("usecase: decode objective: %w", err)
	}
	if strings.TrimSpace(payload.Title) == "" || strings.TrimSpace(payload.SuccessCriteria) == "" {
		return domain.GameObjective{}, errors.New("usecase: objective missing title or success criteria")
	}

	difficulty := domain.Difficulty(payload.Difficulty)
	switch difficulty {
	case domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard:
	default:
		difficulty = domain.DifficultyMedium
	}

	return domain.GameObjective{
		Title:             payload.Title,
		SuccessCriteria:   payload.SuccessCriteria,
		HistoricalContext: payload.HistoricalContext,
		TargetProgress:    domain.ProgressTarget,
		Difficulty:        difficulty,
	}, nil
}

// GenerateObjective replaces the session's objective with an AI-generated
// one. It is only valid before the first message; a session that already
// has history keeps the objective it started with. Generation failures
// fall back to the default objective rather than blocking the game.
func (s *GameService) GenerateObjective(ctx context.Context, sessionID string) (*domain.GameState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = newSessionID()
	}
	if err := s.ensureConfig(ctx); err != nil {
		return nil, newError(ErrorInternal, "ssm_load_error", err)
	}

	state, err := s.store.LoadGame(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorInternal, "state_load_error", err)
	}
	if state == nil {
		state = domain.NewGameState(sessionID, domain.DefaultObjective())
	}
	if len(state.MessageHistory) > 0 {
		return state, newError(ErrorInvalidInput, "game_in_progress", nil)
	}

	state.Objective = s.generateObjective(ctx)
	state.ObjectiveProgress = 0
	if err := s.store.SaveMeta(ctx, state); err != nil {
		return nil, newError(ErrorInternal, "state_save_error", err)
	}
	return state, nil
}

func (s *GameService) generateObjective(ctx context.Context) domain.GameObjective {
	raw, err := s.llm.Chat(ctx, s.model, buildObjectiveMessages(), objectiveSchemaName, objectiveSchema)
	if err != nil {
		return domain.DefaultObjective()
	}
	objective, err := parseObjective(raw)
	if err != nil {
		return domain.DefaultObjective()
	}
	return objective
}

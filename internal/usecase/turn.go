package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"timeline-agent/internal/dice"
	"timeline-agent/internal/domain"
)

const defaultMaxMessageLen = 160

// ParamGetter fetches configuration values from Parameter Store.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// LLMClient is the slice of the OpenAI client the game loop needs.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, schemaName string, schema json.RawMessage) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// GameStore persists game sessions.
type GameStore interface {
	LoadGame(ctx context.Context, sessionID string) (*domain.GameState, error)
	SaveTurn(ctx context.Context, state *domain.GameState, appended []domain.Message) error
	SaveMeta(ctx context.Context, state *domain.GameState) error
}

// DiceRoller produces the d20 result that steers a turn.
type DiceRoller interface {
	Roll() dice.Result
}

// httpStatusCoder matches upstream errors that carry an HTTP status,
// without coupling this package to the client's error types.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// transportFailer matches upstream errors where the request never
// completed, so no spend should be charged for the turn.
type transportFailer interface {
	TransportFailure() bool
}

// newSessionID is a seam for tests.
var newSessionID = func() string {
	return uuid.NewString()
}

// SendMessageInput is one player message aimed at the historical character.
type SendMessageInput struct {
	SessionID string
	Message   string
}

// TurnOutput carries the post-turn state and, when the turn completed,
// the enriched character reply.
type TurnOutput struct {
	State *domain.GameState
	Reply *domain.Message
}

// GameService runs the message-exchange game loop: moderation, dice,
// the character reply, the timeline verdict, and persistence.
type GameService struct {
	params        ParamGetter
	llm           LLMClient
	store         GameStore
	roller        DiceRoller
	paramPrefix   string
	maxMessageLen int
	now           func() time.Time

	cacheMu          sync.RWMutex
	cacheLoaded      bool
	model            string
	characterProfile string
}

func NewGameService(params ParamGetter, llm LLMClient, store GameStore, roller DiceRoller, paramPrefix string, maxMessageLen int) (*GameService, error) {
	if params == nil {
		return nil, errors.New("params must not be nil")
	}
	if llm == nil {
		return nil, errors.New("llm must not be nil")
	}
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if roller == nil {
		return nil, errors.New("roller must not be nil")
	}
	if strings.TrimSpace(paramPrefix) == "" {
		return nil, errors.New("paramPrefix must not be empty")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &GameService{
		params:        params,
		llm:           llm,
		store:         store,
		roller:        roller,
		paramPrefix:   paramPrefix,
		maxMessageLen: maxMessageLen,
		now:           time.Now,
	}, nil
}

// ensureConfig loads the model name and character profile from Parameter
// Store once and caches them for the lifetime of the service.
func (s *GameService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	loaded := s.cacheLoaded
	s.cacheMu.RUnlock()
	if loaded {
		return nil
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	modelName := s.paramPrefix + "/config/openai_model"
	profileName := s.paramPrefix + "/character_profile"
	values, err := s.params.GetParameters(ctx, modelName, profileName)
	if err != nil {
		return err
	}
	model, ok := values[modelName]
	if !ok || strings.TrimSpace(model) == "" {
		return errors.New("parameter " + modelName + " is missing or empty")
	}
	s.model = model
	if profile, ok := values[profileName]; ok && strings.TrimSpace(profile) != "" {
		s.characterProfile = profile
	} else {
		s.characterProfile = defaultCharacterProfile()
	}
	s.cacheLoaded = true
	return nil
}

// SendMessage plays one full turn. Validation and moderation run before
// any state is touched; from the spend onward every outcome, including
// upstream failures, is persisted so reloads see a consistent session.
func (s *GameService) SendMessage(ctx context.Context, in SendMessageInput) (TurnOutput, error) {
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len([]rune(text)) > s.maxMessageLen {
		return TurnOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	sessionID := strings.TrimSpace(in.SessionID)
	var state *domain.GameState
	if sessionID == "" {
		sessionID = newSessionID()
	} else {
		loaded, err := s.store.LoadGame(ctx, sessionID)
		if err != nil {
			return TurnOutput{}, newError(ErrorInternal, "state_load_error", err)
		}
		state = loaded
	}
	if state == nil {
		state = domain.NewGameState(sessionID, domain.DefaultObjective())
	}

	if !state.CanSendMessage() {
		return TurnOutput{State: state}, newError(ErrorInvalidInput, "game_over", nil)
	}
	now := s.now()
	if state.IsRateLimited(now) {
		return TurnOutput{State: state}, newError(ErrorRateLimited, "message_cooldown", nil)
	}

	flagged, err := s.llm.Moderate(ctx, text)
	if err != nil {
		var coder httpStatusCoder
		if errors.As(err, &coder) && coder.HTTPStatusCode() == http.StatusTooManyRequests {
			return TurnOutput{State: state}, newError(ErrorRateLimited, "moderation_rate_limited", err)
		}
		return TurnOutput{State: state}, newError(ErrorUpstream, "moderation_error", err)
	}
	if flagged {
		return TurnOutput{State: state}, newError(ErrorInvalidMessage, "moderation_flagged", nil)
	}

	// Snapshot the history for prompt assembly before this turn extends it.
	history := make([]domain.Message, len(state.MessageHistory))
	copy(history, state.MessageHistory)

	userMsg := domain.NewUserMessage(text, now)
	state.Append(userMsg)
	state.SpendMessage()
	state.EvaluateEndConditions()
	state.LastMessageAt = now
	state.IsLoading = true
	state.Error = ""
	appended := []domain.Message{userMsg}

	roll := s.roller.Roll()

	rawReply, err := s.llm.Chat(ctx, s.model,
		buildCharacterMessages(s.characterProfile, roll.Outcome, history, text),
		characterReplySchemaName, characterReplySchema)
	var reply characterReply
	if err == nil {
		reply, err = parseCharacterReply(rawReply)
	}
	if err != nil {
		return s.failTurn(ctx, state, appended,
			"Failed to generate character response", "character_response_failed", err)
	}
	reply.Message = truncateMessage(reply.Message, s.maxMessageLen)

	rawVerdict, err := s.llm.Chat(ctx, s.model,
		buildTimelineMessages(roll.Roll, roll.Outcome, reply, text, state.Objective.Title),
		timelineVerdictSchemaName, timelineVerdictSchema)
	var verdict timelineVerdict
	if err == nil {
		verdict, err = parseTimelineVerdict(rawVerdict)
	}
	if err != nil {
		return s.failTurn(ctx, state, appended,
			"Failed to evaluate timeline impact", "timeline_evaluation_failed", err)
	}

	aiMsg := domain.NewAIMessage(reply.Message, s.now(), domain.TurnOutcome{
		DiceRoll:        roll.Roll,
		DiceOutcome:     string(roll.Outcome),
		CharacterAction: reply.Action,
		TimelineImpact:  verdict.Impact,
		ProgressChange:  verdict.ProgressChange,
	})
	state.Append(aiMsg)
	state.ApplyProgress(verdict.ProgressChange)
	state.EvaluateEndConditions()
	state.IsLoading = false
	appended = append(appended, aiMsg)

	if err := s.store.SaveTurn(ctx, state, appended); err != nil {
		return TurnOutput{State: state}, newError(ErrorInternal, "state_save_error", err)
	}
	last := state.MessageHistory[len(state.MessageHistory)-1]
	return TurnOutput{State: state, Reply: &last}, nil
}

// failTurn settles a turn whose AI stage failed. Transport failures
// refund the spend, everything else forfeits it; the session is
// persisted either way.
func (s *GameService) failTurn(ctx context.Context, state *domain.GameState, appended []domain.Message, userError, reason string, cause error) (TurnOutput, error) {
	state.IsLoading = false
	state.Error = userError

	code := ErrorUpstream
	var failer transportFailer
	var coder httpStatusCoder
	if errors.As(cause, &failer) && failer.TransportFailure() {
		state.RefundMessage()
		reason = "openai_unreachable"
	} else if errors.As(cause, &coder) && coder.HTTPStatusCode() == http.StatusTooManyRequests {
		code = ErrorRateLimited
		reason = "openai_rate_limited"
	}

	if err := s.store.SaveTurn(ctx, state, appended); err != nil {
		return TurnOutput{State: state}, newError(ErrorInternal, "state_save_error", err)
	}
	return TurnOutput{State: state}, newError(code, reason, cause)
}

// GetState returns the session's state, creating and persisting a fresh
// one when the session is unknown. An empty sessionID starts a new
// session with a generated ID.
func (s *GameService) GetState(ctx context.Context, sessionID string) (*domain.GameState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = newSessionID()
	} else {
		state, err := s.store.LoadGame(ctx, sessionID)
		if err != nil {
			return nil, newError(ErrorInternal, "state_load_error", err)
		}
		if state != nil {
			return state, nil
		}
	}

	state := domain.NewGameState(sessionID, domain.DefaultObjective())
	if err := s.store.SaveMeta(ctx, state); err != nil {
		return nil, newError(ErrorInternal, "state_save_error", err)
	}
	return state, nil
}

// ResetGame restores the session to its initial state under a new epoch.
func (s *GameService) ResetGame(ctx context.Context, sessionID string) (*domain.GameState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "missing_session", nil)
	}
	state, err := s.store.LoadGame(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorInternal, "state_load_error", err)
	}
	if state == nil {
		state = domain.NewGameState(sessionID, domain.DefaultObjective())
	} else {
		state.Reset(domain.DefaultObjective())
	}
	if err := s.store.SaveMeta(ctx, state); err != nil {
		return nil, newError(ErrorInternal, "state_save_error", err)
	}
	return state, nil
}

// GetSummary analyzes a finished or in-flight session.
func (s *GameService) GetSummary(ctx context.Context, sessionID string) (GameSummary, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return GameSummary{}, newError(ErrorInvalidInput, "missing_session", nil)
	}
	state, err := s.store.LoadGame(ctx, sessionID)
	if err != nil {
		return GameSummary{}, newError(ErrorInternal, "state_load_error", err)
	}
	if state == nil {
		return GameSummary{}, newError(ErrorInvalidInput, "unknown_session", nil)
	}
	return Summarize(state), nil
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"timeline-agent/internal/domain"
	"timeline-agent/internal/usecase"
)

// gameService is the slice of the game use case the handler depends on.
type gameService interface {
	SendMessage(ctx context.Context, in usecase.SendMessageInput) (usecase.TurnOutput, error)
	GetState(ctx context.Context, sessionID string) (*domain.GameState, error)
	ResetGame(ctx context.Context, sessionID string) (*domain.GameState, error)
	GenerateObjective(ctx context.Context, sessionID string) (*domain.GameState, error)
	GetSummary(ctx context.Context, sessionID string) (usecase.GameSummary, error)
}

type Handler struct {
	game gameService
}

func NewHandler(game gameService) (*Handler, error) {
	if game == nil {
		return nil, errors.New("game service must not be nil")
	}
	return &Handler{game: game}, nil
}

type messageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type turnOutcomeDTO struct {
	DiceRoll        int    `json:"diceRoll"`
	DiceOutcome     string `json:"diceOutcome"`
	CharacterAction string `json:"characterAction"`
	TimelineImpact  string `json:"timelineImpact"`
	ProgressChange  int    `json:"progressChange"`
}

type messageDTO struct {
	Text      string          `json:"text"`
	Sender    string          `json:"sender"`
	Timestamp time.Time       `json:"timestamp"`
	Outcome   *turnOutcomeDTO `json:"outcome,omitempty"`
}

type stateResponse struct {
	SessionID         string               `json:"sessionId"`
	RemainingMessages int                  `json:"remainingMessages"`
	MessageHistory    []messageDTO         `json:"messageHistory"`
	GameStatus        string               `json:"gameStatus"`
	ObjectiveProgress int                  `json:"objectiveProgress"`
	Objective         domain.GameObjective `json:"objective"`
	Error             string               `json:"error,omitempty"`
}

type messageResponse struct {
	stateResponse
	Reply *messageDTO `json:"reply,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes an API Gateway proxy event to the game service. Errors
// never fail the Lambda invocation; they map to HTTP statuses.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := slog.With("correlationId", corrID, "method", event.HTTPMethod, "path", event.Path)

	body, err := h.route(ctx, event)
	if err != nil {
		status, code, reason := mapError(err)
		log.Error("request failed", "status", status, "reason", reason, "err", err)
		return respond(status, errorResponse{Error: code, Reason: reason}, corrID), nil
	}
	log.Info("request handled")
	return respond(http.StatusOK, body, corrID), nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest) (any, error) {
	switch {
	case event.HTTPMethod == http.MethodPost && event.Path == "/game/message":
		return h.sendMessage(ctx, event.Body)
	case event.HTTPMethod == http.MethodGet && event.Path == "/game/state":
		state, err := h.game.GetState(ctx, event.QueryStringParameters["sessionId"])
		if err != nil {
			return nil, err
		}
		return toStateResponse(state), nil
	case event.HTTPMethod == http.MethodPost && event.Path == "/game/reset":
		return h.withSession(ctx, event.Body, h.game.ResetGame)
	case event.HTTPMethod == http.MethodPost && event.Path == "/game/objective":
		return h.withSession(ctx, event.Body, h.game.GenerateObjective)
	case event.HTTPMethod == http.MethodGet && event.Path == "/game/summary":
		return h.game.GetSummary(ctx, event.QueryStringParameters["sessionId"])
	default:
		return nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "unknown_route"}
	}
}

func (h *Handler) sendMessage(ctx context.Context, rawBody string) (any, error) {
	var req messageRequest
	if err := json.Unmarshal([]byte(rawBody), &req); err != nil {
		return nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_body", Err: err}
	}
	out, err := h.game.SendMessage(ctx, usecase.SendMessageInput{
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		return nil, err
	}
	resp := messageResponse{stateResponse: toStateResponse(out.State)}
	if out.Reply != nil {
		dto := toMessageDTO(*out.Reply)
		resp.Reply = &dto
	}
	return resp, nil
}

func (h *Handler) withSession(ctx context.Context, rawBody string, fn func(context.Context, string) (*domain.GameState, error)) (any, error) {
	var req sessionRequest
	if strings.TrimSpace(rawBody) != "" {
		if err := json.Unmarshal([]byte(rawBody), &req); err != nil {
			return nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_body", Err: err}
		}
	}
	state, err := fn(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	return toStateResponse(state), nil
}

func toStateResponse(state *domain.GameState) stateResponse {
	history := make([]messageDTO, 0, len(state.MessageHistory))
	for _, m := range state.MessageHistory {
		history = append(history, toMessageDTO(m))
	}
	return stateResponse{
		SessionID:         state.SessionID,
		RemainingMessages: state.RemainingMessages,
		MessageHistory:    history,
		GameStatus:        string(state.Status),
		ObjectiveProgress: state.ObjectiveProgress,
		Objective:         state.Objective,
		Error:             state.Error,
	}
}

func toMessageDTO(m domain.Message) messageDTO {
	dto := messageDTO{
		Text:      m.Text,
		Sender:    string(m.Sender),
		Timestamp: m.Timestamp,
	}
	if m.Outcome != nil {
		dto.Outcome = &turnOutcomeDTO{
			DiceRoll:        m.Outcome.DiceRoll,
			DiceOutcome:     m.Outcome.DiceOutcome,
			CharacterAction: m.Outcome.CharacterAction,
			TimelineImpact:  m.Outcome.TimelineImpact,
			ProgressChange:  m.Outcome.ProgressChange,
		}
	}
	return dto
}

func mapError(err error) (status int, code, reason string) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal), "unexpected_error"
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidMessage:
		status = http.StatusBadRequest
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	return status, string(ucErr.Code), ucErr.Reason
}

func respond(status int, body any, corrID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR","reason":"marshal_error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": corrID,
		},
		Body: string(raw),
	}
}

// correlationID reuses the caller's header when present, matching it
// case-insensitively, otherwise mints a new one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

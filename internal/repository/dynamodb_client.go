package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"timeline-agent/internal/domain"
)

const (
	skMeta      = "META#"
	skPrefixMsg = "MSG#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store defines the game-session persistence operations consumed by the
// turn service.
type Store interface {
	LoadGame(ctx context.Context, sessionID string) (*domain.GameState, error)
	SaveTurn(ctx context.Context, state *domain.GameState, appended []domain.Message) error
	SaveMeta(ctx context.Context, state *domain.GameState) error
}

// Client wraps a DynamoDB table for per-session game state. Each session
// lives under one partition: a META item holding the aggregate fields and
// one MSG item per history entry. The META epoch scopes messages to the
// current game; a reset bumps it and TTL reaps the abandoned history.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// gamePK returns the DynamoDB partition key for a session.
func gamePK(sessionID string) string {
	return "GAME#" + sessionID
}

// msgSK returns the sort key for the seq-th message of an epoch. Zero-padded
// so lexicographic SK order is history order.
func msgSK(epoch, seq int) string {
	return fmt.Sprintf("%s%06d#%09d", skPrefixMsg, epoch, seq)
}

// msgPrefix returns the SK prefix covering one epoch's messages.
func msgPrefix(epoch int) string {
	return fmt.Sprintf("%s%06d#", skPrefixMsg, epoch)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// LoadGame reads the META item and the current epoch's messages. A session
// that was never saved returns (nil, nil).
func (c *Client) LoadGame(ctx context.Context, sessionID string) (*domain.GameState, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: gamePK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LoadGame get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	state, err := itemToState(sessionID, out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: LoadGame decode meta: %w", err)
	}

	qout, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: gamePK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: msgPrefix(state.Epoch)},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LoadGame query messages: %w", err)
	}
	for _, item := range qout.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: LoadGame decode message: %w", err)
		}
		state.MessageHistory = append(state.MessageHistory, msg)
	}
	return state, nil
}

// SaveTurn writes the turn's appended messages and the updated META item in
// one transaction, so a turn is either fully persisted or not at all.
// appended must be the tail of state.MessageHistory.
func (c *Client) SaveTurn(ctx context.Context, state *domain.GameState, appended []domain.Message) error {
	if state == nil {
		return errors.New("repository: SaveTurn: state must not be nil")
	}
	if len(appended) > len(state.MessageHistory) {
		return errors.New("repository: SaveTurn: appended messages exceed history")
	}

	start := len(state.MessageHistory) - len(appended)
	items := make([]types.TransactWriteItem, 0, len(appended)+1)
	for i, msg := range appended {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                messageItem(state, start+i, msg),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(c.tableName),
			Item:      metaItem(state),
		},
	})

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// SaveMeta writes or replaces only the META item. Used by reset (the epoch
// bump abandons old messages) and objective changes.
func (c *Client) SaveMeta(ctx context.Context, state *domain.GameState) error {
	if state == nil {
		return errors.New("repository: SaveMeta: state must not be nil")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      metaItem(state),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveMeta: %w", err)
	}
	return nil
}

func metaItem(state *domain.GameState) map[string]types.AttributeValue {
	objective, _ := json.Marshal(state.Objective)
	item := map[string]types.AttributeValue{
		"PK":                &types.AttributeValueMemberS{Value: gamePK(state.SessionID)},
		"SK":                &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":         &types.AttributeValueMemberS{Value: state.SessionID},
		"epoch":             &types.AttributeValueMemberN{Value: strconv.Itoa(state.Epoch)},
		"remainingMessages": &types.AttributeValueMemberN{Value: strconv.Itoa(state.RemainingMessages)},
		"objectiveProgress": &types.AttributeValueMemberN{Value: strconv.Itoa(state.ObjectiveProgress)},
		"status":            &types.AttributeValueMemberS{Value: string(state.Status)},
		"objective":         &types.AttributeValueMemberS{Value: string(objective)},
		"ttl":               &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
	}
	if !state.LastMessageAt.IsZero() {
		item["lastMessageAt"] = &types.AttributeValueMemberS{Value: state.LastMessageAt.UTC().Format(time.RFC3339Nano)}
	}
	return item
}

func messageItem(state *domain.GameState, seq int, msg domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: gamePK(state.SessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(state.Epoch, seq)},
		"text":      &types.AttributeValueMemberS{Value: msg.Text},
		"sender":    &types.AttributeValueMemberS{Value: string(msg.Sender)},
		"timestamp": &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
	}
	if msg.Outcome != nil {
		item["diceRoll"] = &types.AttributeValueMemberN{Value: strconv.Itoa(msg.Outcome.DiceRoll)}
		item["diceOutcome"] = &types.AttributeValueMemberS{Value: msg.Outcome.DiceOutcome}
		item["characterAction"] = &types.AttributeValueMemberS{Value: msg.Outcome.CharacterAction}
		item["timelineImpact"] = &types.AttributeValueMemberS{Value: msg.Outcome.TimelineImpact}
		item["progressChange"] = &types.AttributeValueMemberN{Value: strconv.Itoa(msg.Outcome.ProgressChange)}
	}
	return item
}

func itemToState(sessionID string, item map[string]types.AttributeValue) (*domain.GameState, error) {
	epoch, err := intAttr(item, "epoch")
	if err != nil {
		return nil, err
	}
	remaining, err := intAttr(item, "remainingMessages")
	if err != nil {
		return nil, err
	}
	progress, err := intAttr(item, "objectiveProgress")
	if err != nil {
		return nil, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return nil, err
	}
	rawObjective, err := strAttr(item, "objective")
	if err != nil {
		return nil, err
	}
	var objective domain.GameObjective
	if err := json.Unmarshal([]byte(rawObjective), &objective); err != nil {
		return nil, fmt.Errorf("repository: unmarshal objective: %w", err)
	}

	state := &domain.GameState{
		SessionID:         sessionID,
		RemainingMessages: remaining,
		Status:            domain.GameStatus(status),
		ObjectiveProgress: progress,
		Objective:         objective,
		Epoch:             epoch,
	}
	if raw, ok := item["lastMessageAt"]; ok {
		s, ok := raw.(*types.AttributeValueMemberS)
		if !ok {
			return nil, errors.New(`repository: attribute "lastMessageAt" is not a string`)
		}
		ts, err := time.Parse(time.RFC3339Nano, s.Value)
		if err != nil {
			return nil, fmt.Errorf("repository: parse lastMessageAt: %w", err)
		}
		state.LastMessageAt = ts
	}
	return state, nil
}

// itemToMessage converts a DynamoDB attribute map to a Message. The five
// enrichment attributes are read together: a message either has dice data
// in full or none at all.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Message{}, err
	}
	rawTS, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: parse timestamp: %w", err)
	}

	msg := domain.Message{Text: text, Sender: domain.Sender(sender), Timestamp: ts}
	if _, ok := item["diceRoll"]; !ok {
		return msg, nil
	}

	roll, err := intAttr(item, "diceRoll")
	if err != nil {
		return domain.Message{}, err
	}
	outcome, err := strAttr(item, "diceOutcome")
	if err != nil {
		return domain.Message{}, err
	}
	action, err := strAttr(item, "characterAction")
	if err != nil {
		return domain.Message{}, err
	}
	impact, err := strAttr(item, "timelineImpact")
	if err != nil {
		return domain.Message{}, err
	}
	change, err := intAttr(item, "progressChange")
	if err != nil {
		return domain.Message{}, err
	}
	msg.Outcome = &domain.TurnOutcome{
		DiceRoll:        roll,
		DiceOutcome:     outcome,
		CharacterAction: action,
		TimelineImpact:  impact,
		ProgressChange:  change,
	}
	return msg, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"booking-assistant/internal/clock"
	"booking-assistant/internal/domain"
)

const (
	skState         = "STATE"
	skMessage       = "MSG"
	stateTTL        = 90 * 24 * time.Hour // idle conversations expire after 90 days
	defaultDedupTTL = 40 * time.Second
)

// ErrStateConflict is returned by Save under optimistic locking when the
// stored version moved since the state was loaded.
var ErrStateConflict = errors.New("repository: conversation state changed concurrently")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Locking selects the write semantics of Save.
type Locking string

const (
	LockingNone       Locking = "none"
	LockingOptimistic Locking = "optimistic"
)

// ParseLocking accepts "none" or "optimistic"; empty means none.
func ParseLocking(s string) (Locking, error) {
	switch l := Locking(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LockingNone, nil
	case LockingNone, LockingOptimistic:
		return l, nil
	default:
		return "", fmt.Errorf("repository: unknown state locking %q", s)
	}
}

// StateStore defines the conversation state operations consumed by the usecases.
type StateStore interface {
	Load(ctx context.Context, userID string) (domain.ConversationState, error)
	Save(ctx context.Context, state domain.ConversationState) error
}

// DedupGate defines the at-most-once admission of inbound messages.
type DedupGate interface {
	Admit(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

// Client wraps a DynamoDB table holding conversation state and dedup markers.
type Client struct {
	api       dynamodbAPI
	tableName string
	clock     clock.Clock
	dedupTTL  time.Duration
	locking   Locking
}

type Option func(*Client)

func WithClock(c clock.Clock) Option {
	return func(cl *Client) {
		if c != nil {
			cl.clock = c
		}
	}
}

func WithDedupTTL(ttl time.Duration) Option {
	return func(cl *Client) {
		if ttl > 0 {
			cl.dedupTTL = ttl
		}
	}
}

func WithLocking(l Locking) Option {
	return func(cl *Client) {
		if l != "" {
			cl.locking = l
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:       api,
		tableName: tableName,
		clock:     clock.Real{},
		dedupTTL:  defaultDedupTTL,
		locking:   LockingNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// statePK returns the partition key for a user's conversation state.
func statePK(userID string) string {
	return "state:" + userID
}

// messagePK returns the partition key for a dedup marker.
func messagePK(messageID string) string {
	return "msg:" + messageID
}

// stateItem is the persisted shape of a conversation state.
type stateItem struct {
	PK        string            `dynamodbav:"PK"`
	SK        string            `dynamodbav:"SK"`
	UserID    string            `dynamodbav:"userId"`
	Step      string            `dynamodbav:"step"`
	Data      map[string]string `dynamodbav:"data"`
	Version   int64             `dynamodbav:"version"`
	UpdatedAt string            `dynamodbav:"updatedAt"`
	TTL       int64             `dynamodbav:"ttl"`
}

// Load returns the user's conversation state, or the initial state when none
// is stored. A stored step this build does not know falls back to the menu.
func (c *Client) Load(ctx context.Context, userID string) (domain.ConversationState, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.ConversationState{}, errors.New("repository: Load: user id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(statePK(userID), skState),
		// A stale read would replay an old step after a fast reply.
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.NewConversationState(userID), nil
	}

	var item stateItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: Load unmarshal: %w", err)
	}
	state := domain.ConversationState{
		UserID:  userID,
		Step:    domain.Step(item.Step),
		Data:    item.Data,
		Version: item.Version,
	}
	if state.Data == nil {
		state.Data = map[string]string{}
	}
	if ts, err := time.Parse(time.RFC3339, item.UpdatedAt); err == nil {
		state.UpdatedAt = ts
	}
	if !state.Step.Known() {
		state = state.Reset()
	}
	return state, nil
}

// Save replaces the stored state. Without locking the last writer wins; with
// optimistic locking the write only succeeds if the stored version still
// equals state.Version.
func (c *Client) Save(ctx context.Context, state domain.ConversationState) error {
	if strings.TrimSpace(state.UserID) == "" {
		return errors.New("repository: Save: user id is required")
	}
	step := state.Step
	if !step.Known() {
		step = domain.StepMenu
	}
	now := c.clock.Now().UTC()
	item, err := attributevalue.MarshalMap(stateItem{
		PK:        statePK(state.UserID),
		SK:        skState,
		UserID:    state.UserID,
		Step:      string(step),
		Data:      nonNilData(state.Data),
		Version:   state.Version + 1,
		UpdatedAt: now.Format(time.RFC3339),
		TTL:       now.Add(stateTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("repository: Save marshal: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}
	if c.locking == LockingOptimistic {
		in.ConditionExpression = aws.String("attribute_not_exists(PK) OR version = :expected")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(state.Version, 10)},
		}
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		if isConditionFailed(err) {
			return ErrStateConflict
		}
		return fmt.Errorf("repository: Save put item: %w", err)
	}
	return nil
}

// Admit records messageID and reports whether this is its first delivery
// inside the dedup window. The check and the write are one conditional put,
// so two concurrent deliveries cannot both be admitted. Expired markers that
// DynamoDB has not yet swept are treated as absent.
func (c *Client) Admit(ctx context.Context, messageID string) (bool, error) {
	if strings.TrimSpace(messageID) == "" {
		return false, errors.New("repository: Admit: message id is required")
	}
	now := c.clock.Now().UTC()
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: messagePK(messageID)},
			"SK":         &types.AttributeValueMemberS{Value: skMessage},
			"receivedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(c.dedupTTL).Unix(), 10)},
		},
		ConditionExpression:      aws.String("attribute_not_exists(PK) OR #ttl < :now"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("repository: Admit put item: %w", err)
	}
	return true, nil
}

// Release deletes the dedup marker so a redelivery can be processed. Only
// call it when nothing observable has happened for the message yet.
func (c *Client) Release(ctx context.Context, messageID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(messagePK(messageID), skMessage),
	})
	if err != nil {
		return fmt.Errorf("repository: Release delete item: %w", err)
	}
	return nil
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func nonNilData(data map[string]string) map[string]string {
	if data == nil {
		return map[string]string{}
	}
	return data
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

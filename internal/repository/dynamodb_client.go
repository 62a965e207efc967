package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"postcraft/internal/domain"
)

const (
	pkUserPrefix   = "USER#"
	skProfile      = "PROFILE"
	pkHandlePrefix = "HANDLE#"
	skHandle       = "HANDLE"
	pkEventsPrefix = "EVENTS#"
	skEventPrefix  = "EVT#"

	// Fixed width so that lexical sort key order is chronological order.
	eventTimeLayout = "2006-01-02T15:04:05.000000000Z"
	// Sorts after any "#<uuid>" suffix of an event sort key.
	skUpperSuffix = "#~"

	conditionNotExists = "attribute_not_exists(PK)"
	conditionExists    = "attribute_exists(PK)"
	reasonConditional  = "ConditionalCheckFailed"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client keeps user profiles and events in one DynamoDB table.
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

func userPK(externalID string) string {
	return pkUserPrefix + externalID
}

// handlePK normalizes the handle since platform handles are case-insensitive.
func handlePK(handle string) string {
	return pkHandlePrefix + strings.ToLower(handle)
}

func eventsPK(ownerID string) string {
	return pkEventsPrefix + ownerID
}

func eventSKBound(ts time.Time) string {
	return skEventPrefix + ts.UTC().Format(eventTimeLayout)
}

func eventSK(ts time.Time, id string) string {
	return eventSKBound(ts) + "#" + id
}

// EnsureUser writes the profile and its handle guard in one transaction, both
// conditional on absence. If the profile already exists the stored item is
// returned untouched.
func (c *Client) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.ExternalID == "" {
		return domain.User{}, errors.New("repository: EnsureUser: external id is required")
	}

	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                userItem(u),
				ConditionExpression: aws.String(conditionNotExists),
			},
		},
	}
	if u.DisplayHandle != "" {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                handleItem(u),
				ConditionExpression: aws.String(conditionNotExists),
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return u, nil
	}

	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return domain.User{}, fmt.Errorf("repository: EnsureUser: %w", err)
	}
	if conditionFailed(canceled.CancellationReasons, 0) {
		existing, err := c.GetUser(ctx, u.ExternalID)
		if err != nil {
			return domain.User{}, fmt.Errorf("repository: EnsureUser read existing: %w", err)
		}
		return existing, nil
	}
	if conditionFailed(canceled.CancellationReasons, 1) {
		return domain.User{}, fmt.Errorf("repository: EnsureUser %q: %w", u.DisplayHandle, domain.ErrHandleTaken)
	}
	return domain.User{}, fmt.Errorf("repository: EnsureUser: %w", err)
}

// GetUser reads a profile with a strongly consistent read.
func (c *Client) GetUser(ctx context.Context, externalID string) (domain.User, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(externalID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUser get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, domain.ErrUserNotFound
	}
	u, err := itemToUser(out.Item)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUser decode: %w", err)
	}
	return u, nil
}

// AddUsage atomically increments both token counters of an existing profile.
func (c *Client) AddUsage(ctx context.Context, userID string, usage domain.Usage) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		UpdateExpression:    aws.String("ADD promptTokensUsed :p, completionTokensUsed :c"),
		ConditionExpression: aws.String(conditionExists),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": numberAttr(usage.PromptTokens),
			":c": numberAttr(usage.CompletionTokens),
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: AddUsage %q: %w", userID, domain.ErrUserNotFound)
		}
		return fmt.Errorf("repository: AddUsage: %w", err)
	}
	return nil
}

// InsertEvent persists one event record.
func (c *Client) InsertEvent(ctx context.Context, e domain.Event) error {
	if e.OwnerID == "" || e.ID == "" {
		return errors.New("repository: InsertEvent: owner and id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                eventItem(e),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: InsertEvent: %w", err)
	}
	return nil
}

// EventsBetween returns the owner's events created in [from, to], oldest first.
func (c *Client) EventsBetween(ctx context.Context, ownerID string, from, to time.Time) ([]domain.Event, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :from AND :to"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: eventsPK(ownerID)},
			":from": &types.AttributeValueMemberS{Value: eventSKBound(from)},
			":to":   &types.AttributeValueMemberS{Value: eventSKBound(to) + skUpperSuffix},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var events []domain.Event
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: EventsBetween query: %w", err)
		}
		for _, item := range out.Items {
			e, err := itemToEvent(item)
			if err != nil {
				return nil, fmt.Errorf("repository: EventsBetween unmarshal: %w", err)
			}
			events = append(events, e)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return events, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func conditionFailed(reasons []types.CancellationReason, idx int) bool {
	if idx >= len(reasons) {
		return false
	}
	return aws.ToString(reasons[idx].Code) == reasonConditional
}

func userItem(u domain.User) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":                   &types.AttributeValueMemberS{Value: userPK(u.ExternalID)},
		"SK":                   &types.AttributeValueMemberS{Value: skProfile},
		"externalId":           &types.AttributeValueMemberS{Value: u.ExternalID},
		"firstName":            &types.AttributeValueMemberS{Value: u.FirstName},
		"lastName":             &types.AttributeValueMemberS{Value: u.LastName},
		"isBot":                &types.AttributeValueMemberBOOL{Value: u.IsBot},
		"username":             &types.AttributeValueMemberS{Value: u.DisplayHandle},
		"promptTokensUsed":     numberAttr(u.PromptTokensUsed),
		"completionTokensUsed": numberAttr(u.CompletionTokensUsed),
		"createdAt":            &types.AttributeValueMemberS{Value: u.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func handleItem(u domain.User) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: handlePK(u.DisplayHandle)},
		"SK":      &types.AttributeValueMemberS{Value: skHandle},
		"ownerId": &types.AttributeValueMemberS{Value: u.ExternalID},
	}
}

func eventItem(e domain.Event) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: eventsPK(e.OwnerID)},
		"SK":        &types.AttributeValueMemberS{Value: eventSK(e.CreatedAt, e.ID)},
		"id":        &types.AttributeValueMemberS{Value: e.ID},
		"ownerId":   &types.AttributeValueMemberS{Value: e.OwnerID},
		"text":      &types.AttributeValueMemberS{Value: e.Text},
		"createdAt": &types.AttributeValueMemberS{Value: e.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	id, err := strAttr(item, "externalId")
	if err != nil {
		return domain.User{}, err
	}
	firstName, err := strAttr(item, "firstName")
	if err != nil {
		return domain.User{}, err
	}
	lastName, _ := strAttr(item, "lastName") // allow empty
	handle, _ := strAttr(item, "username")   // allow empty
	isBot, _ := boolAttr(item, "isBot")
	prompt, err := optionalIntAttr(item, "promptTokensUsed")
	if err != nil {
		return domain.User{}, err
	}
	completion, err := optionalIntAttr(item, "completionTokensUsed")
	if err != nil {
		return domain.User{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ExternalID:           id,
		FirstName:            firstName,
		LastName:             lastName,
		IsBot:                isBot,
		DisplayHandle:        handle,
		PromptTokensUsed:     prompt,
		CompletionTokensUsed: completion,
		CreatedAt:            createdAt,
	}, nil
}

func itemToEvent(item map[string]types.AttributeValue) (domain.Event, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Event{}, err
	}
	owner, err := strAttr(item, "ownerId")
	if err != nil {
		return domain.Event{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Event{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{ID: id, OwnerID: owner, Text: text, CreatedAt: createdAt}, nil
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
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

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

// optionalIntAttr treats a missing counter as zero; ADD creates it lazily.
func optionalIntAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}

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

	"company-assistant/internal/domain"
)

const (
	skPrefixMsg        = "MSG#"
	skMeta             = "META#"
	defaultSessionTTL  = 24 * time.Hour
	defaultLease       = 2 * time.Minute
	batchWriteMaxItems = 25
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore keeps session history in a single DynamoDB table:
//
//	PK=SESSION#<id> SK=MSG#<seq>  one item per message
//	PK=SESSION#<id> SK=META#      message count, in-flight lease, TTL
//
// Every item carries a ttl attribute so abandoned sessions expire.
type DynamoStore struct {
	api        dynamodbAPI
	tableName  string
	sessionTTL time.Duration
	lease      time.Duration
	now        func() time.Time
}

type DynamoOption func(*DynamoStore)

func WithSessionTTL(d time.Duration) DynamoOption {
	return func(s *DynamoStore) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

func WithLeaseDuration(d time.Duration) DynamoOption {
	return func(s *DynamoStore) {
		if d > 0 {
			s.lease = d
		}
	}
}

// NewDynamoStore creates a DynamoStore over tableName.
func NewDynamoStore(api dynamodbAPI, tableName string, opts ...DynamoOption) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &DynamoStore{
		api:        api,
		tableName:  tableName,
		sessionTTL: defaultSessionTTL,
		lease:      defaultLease,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// sessionPK returns the partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK returns the sort key for the message at position seq. Zero padding
// keeps lexical and numeric order the same.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%010d", skPrefixMsg, seq)
}

func (s *DynamoStore) ttlValue() int64 {
	return s.now().Add(s.sessionTTL).Unix()
}

func (s *DynamoStore) metaKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// Load queries all MSG# items for a session in chronological order.
func (s *DynamoStore) Load(ctx context.Context, sessionID string) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var msgs []domain.Message
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: Load query: %w", err)
		}
		for _, item := range out.Items {
			seq, err := intAttr(item, "seq")
			if err != nil {
				return nil, fmt.Errorf("repository: Load unmarshal: %w", err)
			}
			if seq != len(msgs) {
				return nil, fmt.Errorf("repository: Load: message %d found at position %d", seq, len(msgs))
			}
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: Load unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return msgs, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Append writes msgs starting at offset and bumps the META count in one
// transaction. The count condition rejects writes against a stale offset.
func (s *DynamoStore) Append(ctx context.Context, sessionID string, offset int, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ttl := s.ttlValue()
	items := make([]types.TransactWriteItem, 0, len(msgs)+1)
	for i, m := range msgs {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                messageItem(sessionID, offset+i, m, ttl),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	condition := "#count = :offset"
	if offset == 0 {
		condition = "attribute_not_exists(#count) OR #count = :offset"
	}
	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(s.tableName),
			Key:                 s.metaKey(sessionID),
			UpdateExpression:    aws.String("SET #count = :next, sessionId = :sid, lastActivity = :now, #ttl = :ttl"),
			ConditionExpression: aws.String(condition),
			ExpressionAttributeNames: map[string]string{
				"#count": "count",
				"#ttl":   "ttl",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":offset": numberAttr(int64(offset)),
				":next":   numberAttr(int64(offset + len(msgs))),
				":sid":    &types.AttributeValueMemberS{Value: sessionID},
				":now":    &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
				":ttl":    numberAttr(ttl),
			},
		},
	})

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// Acquire takes the session lease unless a live one exists.
func (s *DynamoStore) Acquire(ctx context.Context, sessionID string) error {
	now := s.now()
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.metaKey(sessionID),
		UpdateExpression:    aws.String("SET leaseUntil = :until, sessionId = :sid, #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_not_exists(leaseUntil) OR leaseUntil < :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":until": numberAttr(now.Add(s.lease).UnixMilli()),
			":now":   numberAttr(now.UnixMilli()),
			":sid":   &types.AttributeValueMemberS{Value: sessionID},
			":ttl":   numberAttr(s.ttlValue()),
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrSessionBusy
		}
		return fmt.Errorf("repository: Acquire: %w", err)
	}
	return nil
}

// Release drops the lease. A session reset mid-flight has no META item left,
// which is not an error.
func (s *DynamoStore) Release(ctx context.Context, sessionID string) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.metaKey(sessionID),
		UpdateExpression:    aws.String("REMOVE leaseUntil"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("repository: Release: %w", err)
	}
	return nil
}

// Reset deletes every item of the session.
func (s *DynamoStore) Reset(ctx context.Context, sessionID string) error {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		},
		ProjectionExpression: aws.String("PK, SK"),
	}

	var keys []map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return fmt.Errorf("repository: Reset query: %w", err)
		}
		for _, item := range out.Items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	for start := 0; start < len(keys); start += batchWriteMaxItems {
		end := min(start+batchWriteMaxItems, len(keys))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		out, err := s.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.tableName: reqs},
		})
		if err != nil {
			return fmt.Errorf("repository: Reset delete: %w", err)
		}
		if out != nil && len(out.UnprocessedItems[s.tableName]) > 0 {
			return fmt.Errorf("repository: Reset delete: %d items unprocessed", len(out.UnprocessedItems[s.tableName]))
		}
	}
	return nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{Role: domain.Role(role), Text: text}, nil
}

func messageItem(sessionID string, seq int, m domain.Message, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(seq)},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"seq":       numberAttr(int64(seq)),
		"role":      &types.AttributeValueMemberS{Value: string(m.Role)},
		"text":      &types.AttributeValueMemberS{Value: m.Text},
		"ttl":       numberAttr(ttl),
	}
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

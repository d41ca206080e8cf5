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

	"agent-inbox/internal/domain"
)

const (
	pkPrefixThread = "THREAD#"
	pkPrefixUser   = "USER#"
	skMeta         = "META#"
	skProfile      = "PROFILE#"

	// OwnerIndex is the GSI keyed by owner (partition) and updatedAt (sort).
	OwnerIndex = "owner-updated-index"

	batchWriteLimit = 25
	maxBatchRetries = 5
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore keeps conversations and users in a single DynamoDB table.
// Each conversation is one item; messages are an embedded list.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoStore creates a DynamoDB backed store.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

// threadPK returns the partition key for a conversation.
func threadPK(threadID string) string {
	return pkPrefixThread + threadID
}

// ownerKey returns the GSI partition key shared by a user's threads with one agent.
func ownerKey(userID, agentType string) string {
	return pkPrefixUser + userID + "#AGENT#" + agentType
}

func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	if err != nil {
		return fmt.Errorf("repository: Ping: %w", err)
	}
	return nil
}

// GetConversation loads a thread by id. The bool is false when it does not exist.
func (s *DynamoStore) GetConversation(ctx context.Context, threadID string) (domain.Conversation, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(threadID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, false, nil
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return conv, true, nil
}

// SaveConversation writes the whole record. A zero Version creates the item and
// fails if the thread id is taken; otherwise the stored version must still
// match. The returned conversation carries the new version.
func (s *DynamoStore) SaveConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	if conv.ThreadID == "" || conv.UserID == "" || conv.AgentType == "" {
		return domain.Conversation{}, errors.New("repository: SaveConversation: thread, user and agent are required")
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	in := &dynamodb.PutItemInput{TableName: aws.String(s.tableName)}
	if conv.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("#version = :v")
		in.ExpressionAttributeNames = map[string]string{"#version": "version"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.Itoa(conv.Version)},
		}
	}
	conv.Version++
	in.Item = conversationItem(conv)

	if _, err := s.api.PutItem(ctx, in); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return domain.Conversation{}, ErrConflict
		}
		return domain.Conversation{}, fmt.Errorf("repository: SaveConversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns a user's threads with one agent, most recently updated first.
func (s *DynamoStore) ListConversations(ctx context.Context, userID, agentType string) ([]domain.Conversation, error) {
	items, err := s.queryOwner(ctx, userID, agentType, "")
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversations: %w", err)
	}
	convs := make([]domain.Conversation, 0, len(items))
	for _, item := range items {
		conv, err := itemToConversation(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversations decode: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// CountMessages sums the message counts of every thread a user has with one agent.
func (s *DynamoStore) CountMessages(ctx context.Context, userID, agentType string) (int, error) {
	items, err := s.queryOwner(ctx, userID, agentType, "messageCount")
	if err != nil {
		return 0, fmt.Errorf("repository: CountMessages: %w", err)
	}
	total := 0
	for _, item := range items {
		n, err := intAttr(item, "messageCount")
		if err != nil {
			return 0, fmt.Errorf("repository: CountMessages decode: %w", err)
		}
		total += n
	}
	return total, nil
}

// DeleteConversation removes one thread if it belongs to the user and agent.
// It returns the number of deleted threads (0 or 1).
func (s *DynamoStore) DeleteConversation(ctx context.Context, userID, agentType, threadID string) (int, error) {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(threadID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerKey(userID, agentType)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, nil
		}
		return 0, fmt.Errorf("repository: DeleteConversation: %w", err)
	}
	return 1, nil
}

// DeleteConversations removes every thread a user has with one agent.
func (s *DynamoStore) DeleteConversations(ctx context.Context, userID, agentType string) (int, error) {
	items, err := s.queryOwner(ctx, userID, agentType, "PK, SK")
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteConversations: %w", err)
	}

	deleted := 0
	for start := 0; start < len(items); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(items))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
					"PK": item["PK"],
					"SK": item["SK"],
				}},
			})
		}
		if err := s.batchWrite(ctx, reqs); err != nil {
			return deleted, fmt.Errorf("repository: DeleteConversations: %w", err)
		}
		deleted += len(reqs)
	}
	return deleted, nil
}

func (s *DynamoStore) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: reqs}
	for attempt := 0; attempt < maxBatchRetries; attempt++ {
		out, err := s.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		if out == nil || len(out.UnprocessedItems[s.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("%d delete requests left unprocessed", len(pending[s.tableName]))
}

// queryOwner pages through the owner index. An empty projection returns whole items.
func (s *DynamoStore) queryOwner(ctx context.Context, userID, agentType, projection string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(OwnerIndex),
		KeyConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerKey(userID, agentType)},
		},
		// Newest activity first.
		ScanIndexForward: aws.Bool(false),
	}
	if projection != "" {
		in.ProjectionExpression = aws.String(projection)
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	msgs := make([]types.AttributeValue, len(conv.Messages))
	for i, m := range conv.Messages {
		msgs[i] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"id":        &types.AttributeValueMemberS{Value: m.ID},
			"from":      &types.AttributeValueMemberS{Value: m.From},
			"to":        &types.AttributeValueMemberS{Value: m.To},
			"body":      &types.AttributeValueMemberS{Value: m.Body},
			"timestamp": &types.AttributeValueMemberS{Value: formatTime(m.Timestamp)},
			"role":      &types.AttributeValueMemberS{Value: string(m.Direction)},
		}}
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: threadPK(conv.ThreadID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"owner":        &types.AttributeValueMemberS{Value: ownerKey(conv.UserID, conv.AgentType)},
		"threadId":     &types.AttributeValueMemberS{Value: conv.ThreadID},
		"userId":       &types.AttributeValueMemberS{Value: conv.UserID},
		"agentType":    &types.AttributeValueMemberS{Value: conv.AgentType},
		"subject":      &types.AttributeValueMemberS{Value: conv.Subject},
		"messages":     &types.AttributeValueMemberL{Value: msgs},
		"messageCount": &types.AttributeValueMemberN{Value: strconv.Itoa(len(conv.Messages))},
		"createdAt":    &types.AttributeValueMemberS{Value: formatTime(conv.CreatedAt)},
		"updatedAt":    &types.AttributeValueMemberS{Value: formatTime(conv.UpdatedAt)},
		"version":      &types.AttributeValueMemberN{Value: strconv.Itoa(conv.Version)},
	}
}

// itemToConversation converts a DynamoDB attribute map to a Conversation.
func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	var conv domain.Conversation
	var err error
	if conv.ThreadID, err = strAttr(item, "threadId"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.UserID, err = strAttr(item, "userId"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.AgentType, err = strAttr(item, "agentType"); err != nil {
		return domain.Conversation{}, err
	}
	conv.Subject, _ = strAttr(item, "subject") // allow empty
	if conv.Version, err = intAttr(item, "version"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return domain.Conversation{}, err
	}

	list, ok := item["messages"].(*types.AttributeValueMemberL)
	if !ok {
		return conv, nil
	}
	conv.Messages = make([]domain.Message, 0, len(list.Value))
	for i, v := range list.Value {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return domain.Conversation{}, fmt.Errorf("repository: message %d is not a map", i)
		}
		msg, err := itemToMessage(m.Value)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("repository: message %d: %w", i, err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	body, err := strAttr(item, "body")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	id, _ := strAttr(item, "id")
	from, _ := strAttr(item, "from")
	to, _ := strAttr(item, "to")
	return domain.Message{
		ID:        id,
		From:      from,
		To:        to,
		Body:      body,
		Timestamp: ts,
		Direction: domain.Direction(role),
	}, nil
}

// timeLayout is fixed width so stored timestamps sort lexically in time
// order; updatedAt is the owner index sort key.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
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

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}

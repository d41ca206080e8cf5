package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"agent-inbox/internal/domain"
)

// userPK keys users by normalized email so the table enforces email uniqueness.
func userPK(email string) string {
	return pkPrefixUser + normalizeEmail(email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetUserByEmail loads a user. The bool is false when no user has that email.
func (s *DynamoStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(email)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("repository: GetUserByEmail get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, false, nil
	}
	u, err := itemToUser(out.Item)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("repository: GetUserByEmail decode: %w", err)
	}
	return u, true, nil
}

// CreateUser inserts a new user, failing with ErrUserExists if the email is taken.
func (s *DynamoStore) CreateUser(ctx context.Context, u domain.User) error {
	if u.ID == "" || normalizeEmail(u.Email) == "" {
		return errors.New("repository: CreateUser: id and email are required")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                userItem(u),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrUserExists
		}
		return fmt.Errorf("repository: CreateUser: %w", err)
	}
	return nil
}

// UpdateUser replaces an existing user record.
func (s *DynamoStore) UpdateUser(ctx context.Context, u domain.User) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                userItem(u),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrUserNotFound
		}
		return fmt.Errorf("repository: UpdateUser: %w", err)
	}
	return nil
}

func userItem(u domain.User) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(u.Email)},
		"SK":        &types.AttributeValueMemberS{Value: skProfile},
		"userId":    &types.AttributeValueMemberS{Value: u.ID},
		"username":  &types.AttributeValueMemberS{Value: u.Username},
		"email":     &types.AttributeValueMemberS{Value: normalizeEmail(u.Email)},
		"createdAt": &types.AttributeValueMemberS{Value: formatTime(u.CreatedAt)},
	}
	// Optional attributes are omitted rather than stored empty.
	for key, v := range map[string]string{
		"passwordHash": u.PasswordHash,
		"googleId":     u.GoogleID,
		"picture":      u.Picture,
	} {
		if v != "" {
			item[key] = &types.AttributeValueMemberS{Value: v}
		}
	}
	return item
}

func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	var u domain.User
	var err error
	if u.ID, err = strAttr(item, "userId"); err != nil {
		return domain.User{}, err
	}
	if u.Email, err = strAttr(item, "email"); err != nil {
		return domain.User{}, err
	}
	if u.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.User{}, err
	}
	u.Username, _ = strAttr(item, "username")
	u.PasswordHash, _ = strAttr(item, "passwordHash")
	u.GoogleID, _ = strAttr(item, "googleId")
	u.Picture, _ = strAttr(item, "picture")
	return u, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"miroir-agent/internal/domain"
)

const (
	pkPrefixReading = "READING#"
	skPrefixCreated = "CREATED#"
	ttlDuration     = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Journal.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Journal is a write-only log of produced readings.
type Journal struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a Journal writing to tableName.
func New(api dynamodbAPI, tableName string) (*Journal, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Journal{api: api, tableName: tableName, now: time.Now}, nil
}

func readingPK(id string) string {
	return pkPrefixReading + id
}

func createdSK(ts time.Time) string {
	return skPrefixCreated + ts.UTC().Format(time.RFC3339Nano)
}

// RecordReading stores one reading. ID, CreatedAt and TTL are filled in when
// empty.
func (j *Journal) RecordReading(ctx context.Context, r domain.Reading) error {
	now := j.now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = now.Format(time.RFC3339Nano)
	}
	if r.TTL == 0 {
		r.TTL = now.Add(ttlDuration).Unix()
	}

	_, err := j.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(j.tableName),
		Item:                readingItem(r, now),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordReading: %w", err)
	}
	return nil
}

func readingItem(r domain.Reading, ts time.Time) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: readingPK(r.ID)},
		"SK":          &types.AttributeValueMemberS{Value: createdSK(ts)},
		"readingId":   &types.AttributeValueMemberS{Value: r.ID},
		"locale":      &types.AttributeValueMemberS{Value: r.Locale},
		"model":       &types.AttributeValueMemberS{Value: r.Model},
		"softFailure": &types.AttributeValueMemberBOOL{Value: r.SoftFailure},
		"createdAt":   &types.AttributeValueMemberS{Value: r.CreatedAt},
		"ttl":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", r.TTL)},
	}
	if r.CorrelationID != "" {
		item["correlationId"] = &types.AttributeValueMemberS{Value: r.CorrelationID}
	}
	putJSON(item, "axes", r.Axes)
	putJSON(item, "parents", r.Parents)
	putJSON(item, "result", r.Result)
	return item
}

// putJSON stores raw JSON as a string attribute, skipping empty payloads.
func putJSON(item map[string]types.AttributeValue, key string, raw []byte) {
	if len(raw) == 0 {
		return
	}
	item[key] = &types.AttributeValueMemberS{Value: string(raw)}
}

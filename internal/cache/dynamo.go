package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

const (
	pkResult = "RESULT#"
	skResult = "RESULT"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoCache.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// DynamoCache shares results across Lambda containers. Payloads are zstd
// compressed and the table's TTL attribute (expiresAt) removes stale rows.
// Expiry is also checked on read because TTL deletion lags.
type DynamoCache struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

var _ ResultCache = (*DynamoCache)(nil)

// NewDynamoCache creates a DynamoCache for the given table.
func NewDynamoCache(client DynamoAPI, tableName string) *DynamoCache {
	return &DynamoCache{client: client, tableName: tableName, now: time.Now}
}

type resultItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Payload   []byte `dynamodbav:"payload"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
	Size      int    `dynamodbav:"rawSize"`
}

func (c *DynamoCache) Get(ctx context.Context, key Key) ([]byte, time.Time, bool) {
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &c.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkResult + key.String()},
			"SK": &types.AttributeValueMemberS{Value: skResult},
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("cacheKey", key.String()).Msg("Result cache read failed, treating as miss")
		return nil, time.Time{}, false
	}
	if out.Item == nil {
		return nil, time.Time{}, false
	}

	var item resultItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		log.Warn().Err(err).Str("cacheKey", key.String()).Msg("Result cache item malformed")
		return nil, time.Time{}, false
	}
	expiresAt := time.Unix(item.ExpiresAt, 0)
	if !c.now().Before(expiresAt) {
		return nil, time.Time{}, false
	}

	value, err := decoder.DecodeAll(item.Payload, make([]byte, 0, item.Size))
	if err != nil {
		log.Warn().Err(err).Str("cacheKey", key.String()).Msg("Result cache payload corrupt")
		return nil, time.Time{}, false
	}
	return value, expiresAt, true
}

func (c *DynamoCache) Set(ctx context.Context, key Key, value []byte, expiresAt time.Time) {
	if !c.now().Before(expiresAt) {
		return
	}
	item, err := attributevalue.MarshalMap(resultItem{
		PK:        pkResult + key.String(),
		SK:        skResult,
		Payload:   encoder.EncodeAll(value, nil),
		ExpiresAt: expiresAt.Unix(),
		Size:      len(value),
	})
	if err != nil {
		log.Warn().Err(err).Str("cacheKey", key.String()).Msg("Result cache marshal failed")
		return
	}
	// A single PutItem replaces the whole row.
	if _, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &c.tableName,
		Item:      item,
	}); err != nil {
		log.Warn().Err(fmt.Errorf("PutItem %s: %w", key, err)).Msg("Result cache write failed")
		return
	}
	log.Debug().
		Str("cacheKey", key.String()).
		Int("rawBytes", len(value)).
		Time("expiresAt", expiresAt).
		Msg("Result cached in DynamoDB")
}

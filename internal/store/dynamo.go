package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/match"
)

// DynamoDB key constants for the single-table design.
const (
	pkSession  = "SESSION#"
	pkScan     = "SCAN#"
	skMeta     = "META"
	skFeedback = "FEEDBACK"
	skLock     = "LOCK"

	conditionalCheckFailed = "ConditionalCheckFailed"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore implements SessionStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface check.
var _ SessionStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// sessionRecord is the META item. The decision is stored as its JSON
// envelope; kind and scores are duplicated as top-level attributes for
// querying in the console.
type sessionRecord struct {
	UserID           string            `dynamodbav:"userId,omitempty"`
	Category         string            `dynamodbav:"category"`
	ImageHash        string            `dynamodbav:"imageHash"`
	DecisionKind     string            `dynamodbav:"decisionKind"`
	BestScore        float64           `dynamodbav:"bestScore"`
	ScoreGap         float64           `dynamodbav:"scoreGap"`
	Decision         string            `dynamodbav:"decision"`
	Capture          map[string]string `dynamodbav:"capture,omitempty"`
	CreatedAt        int64             `dynamodbav:"createdAt"`
	ResolvedFamilyID string            `dynamodbav:"resolvedFamilyId,omitempty"`
	ResolvedAt       int64             `dynamodbav:"resolvedAt,omitempty"`
}

type lockRecord struct {
	SessionID string `dynamodbav:"sessionId"`
}

// --- Internal helpers ---

func sessionPK(sessionID string) string {
	return pkSession + sessionID
}

func scanPK(key ScanKey) string {
	return pkScan + key.String()
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// expiresAt returns the Unix epoch timestamp for record expiration.
func (s *DynamoStore) expiresAt() int64 {
	return s.now().Add(SessionRetention).Unix()
}

// marshalItem marshals a record and adds PK, SK and TTL attributes.
func (s *DynamoStore) marshalItem(pk, sk string, data interface{}) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)}
	return item, nil
}

// getItem reads a single item from DynamoDB and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// cancelledBy reports which transaction items failed their condition.
func cancelledBy(err error) ([]bool, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, false
	}
	failed := make([]bool, len(tce.CancellationReasons))
	conflict := false
	for i, r := range tce.CancellationReasons {
		if aws.ToString(r.Code) == conditionalCheckFailed {
			failed[i] = true
			conflict = true
		}
	}
	return failed, conflict
}

func toRecord(session *MatchSession) (*sessionRecord, error) {
	payload, err := json.Marshal(session.Decision)
	if err != nil {
		return nil, fmt.Errorf("encode decision: %w", err)
	}
	return &sessionRecord{
		UserID:           session.UserID,
		Category:         session.Category,
		ImageHash:        session.ImageHash,
		DecisionKind:     string(session.Decision.Kind),
		BestScore:        session.Decision.BestScore,
		ScoreGap:         session.Decision.ScoreGap,
		Decision:         string(payload),
		Capture:          session.Capture,
		CreatedAt:        session.CreatedAt,
		ResolvedFamilyID: session.ResolvedFamilyID,
		ResolvedAt:       session.ResolvedAt,
	}, nil
}

func fromRecord(id string, rec *sessionRecord) (*MatchSession, error) {
	var env match.Envelope
	if err := json.Unmarshal([]byte(rec.Decision), &env); err != nil {
		return nil, fmt.Errorf("decode decision for session %s: %w", id, err)
	}
	return &MatchSession{
		ID:               id,
		UserID:           rec.UserID,
		Category:         rec.Category,
		ImageHash:        rec.ImageHash,
		Decision:         env,
		Capture:          rec.Capture,
		CreatedAt:        rec.CreatedAt,
		ResolvedFamilyID: rec.ResolvedFamilyID,
		ResolvedAt:       rec.ResolvedAt,
	}, nil
}

// --- Session operations ---

func (s *DynamoStore) ResolveSession(ctx context.Context, key ScanKey) (*MatchSession, error) {
	var lock lockRecord
	found, err := s.getItem(ctx, scanPK(key), skLock, &lock)
	if err != nil {
		return nil, fmt.Errorf("resolve session %s: %w", key, err)
	}
	if !found || lock.SessionID == "" {
		return nil, nil
	}

	session, err := s.GetSession(ctx, lock.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session %s: %w", key, err)
	}
	if session == nil {
		// The lock outlived its session (TTL skew); treat as absent.
		log.Warn().Str("scanKey", key.String()).Str("sessionId", lock.SessionID).Msg("Scan lock without session")
	}
	return session, nil
}

func (s *DynamoStore) CreateSession(ctx context.Context, session *MatchSession) (*MatchSession, bool, error) {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.CreatedAt == 0 {
		session.CreatedAt = s.now().Unix()
	}
	key := session.Key()

	rec, err := toRecord(session)
	if err != nil {
		return nil, false, fmt.Errorf("create session %s: %w", session.ID, err)
	}
	meta, err := s.marshalItem(sessionPK(session.ID), skMeta, rec)
	if err != nil {
		return nil, false, fmt.Errorf("create session %s: %w", session.ID, err)
	}
	lock, err := s.marshalItem(scanPK(key), skLock, lockRecord{SessionID: session.ID})
	if err != nil {
		return nil, false, fmt.Errorf("create session %s: %w", session.ID, err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                lock,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                meta,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		if _, conflict := cancelledBy(err); conflict {
			existing, rerr := s.ResolveSession(ctx, key)
			if rerr != nil {
				return nil, false, fmt.Errorf("create session %s: load existing: %w", session.ID, rerr)
			}
			if existing == nil {
				return nil, false, fmt.Errorf("create session %s: conflict on %s but no session found", session.ID, key)
			}
			log.Debug().
				Str("scanKey", key.String()).
				Str("sessionId", existing.ID).
				Msg("Concurrent scan already created session, returning existing")
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create session %s: TransactWriteItems: %w", session.ID, err)
	}

	log.Debug().
		Str("sessionId", session.ID).
		Str("decision", string(session.Decision.Kind)).
		Str("category", session.Category).
		Msg("Session persisted to DynamoDB")
	return session, true, nil
}

func (s *DynamoStore) GetSession(ctx context.Context, sessionID string) (*MatchSession, error) {
	var rec sessionRecord
	found, err := s.getItem(ctx, sessionPK(sessionID), skMeta, &rec)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if !found {
		return nil, nil
	}
	return fromRecord(sessionID, &rec)
}

// --- Feedback operations ---

func (s *DynamoStore) PutFeedback(ctx context.Context, fb *Feedback) error {
	if fb.CreatedAt == 0 {
		fb.CreatedAt = s.now().Unix()
	}
	item, err := s.marshalItem(sessionPK(fb.SessionID), skFeedback, fb)
	if err != nil {
		return fmt.Errorf("put feedback %s: %w", fb.SessionID, err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Update: &types.Update{
				TableName:           &s.tableName,
				Key:                 keyOf(sessionPK(fb.SessionID), skMeta),
				UpdateExpression:    aws.String("SET resolvedFamilyId = :family, resolvedAt = :at"),
				ConditionExpression: aws.String("attribute_exists(PK)"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":family": &types.AttributeValueMemberS{Value: fb.ChosenFamilyID},
					":at":     &types.AttributeValueMemberN{Value: strconv.FormatInt(fb.CreatedAt, 10)},
				},
			}},
		},
	})
	if err != nil {
		if failed, ok := cancelledBy(err); ok {
			// The session check is the more fundamental failure.
			if len(failed) > 1 && failed[1] {
				return fmt.Errorf("put feedback %s: %w", fb.SessionID, ErrSessionNotFound)
			}
			return fmt.Errorf("put feedback %s: %w", fb.SessionID, ErrFeedbackExists)
		}
		return fmt.Errorf("put feedback %s: TransactWriteItems: %w", fb.SessionID, err)
	}

	log.Debug().
		Str("sessionId", fb.SessionID).
		Str("familyId", fb.ChosenFamilyID).
		Str("action", fb.Action).
		Msg("Feedback persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetFeedback(ctx context.Context, sessionID string) (*Feedback, error) {
	var fb Feedback
	found, err := s.getItem(ctx, sessionPK(sessionID), skFeedback, &fb)
	if err != nil {
		return nil, fmt.Errorf("get feedback %s: %w", sessionID, err)
	}
	if !found {
		return nil, nil
	}
	fb.SessionID = sessionID
	return &fb, nil
}

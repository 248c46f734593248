package feedback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/match"
)

const (
	EventSource     = "item-identify"
	EventDetailType = "ItemFeedback"
)

// Event is the ItemFeedback event detail.
type Event struct {
	SessionID            string     `json:"sessionId"`
	UserID               string     `json:"userId,omitempty"`
	Category             string     `json:"category"`
	ImageHash            string     `json:"imageHash"`
	Decision             match.Kind `json:"decision"`
	BestScore            float64    `json:"bestScore"`
	AutoSelectedFamilyID string     `json:"autoSelectedFamilyId,omitempty"`
	ChosenFamilyID       string     `json:"chosenFamilyId"`
	Action               string     `json:"action"`
	WasAutoSelected      bool       `json:"wasAutoSelected"`
	Timestamp            int64      `json:"timestamp"`
}

// EventSink delivers feedback events.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// PutEventsAPI is the subset of the EventBridge client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSink publishes events to an EventBridge bus.
type EventBridgeSink struct {
	client PutEventsAPI
	bus    string
}

// NewEventBridgeSink creates a sink. An empty bus uses the default bus.
func NewEventBridgeSink(client PutEventsAPI, bus string) *EventBridgeSink {
	return &EventBridgeSink{client: client, bus: bus}
}

func (s *EventBridgeSink) Emit(ctx context.Context, event Event) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", EventDetailType, err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(EventSource),
		DetailType: aws.String(EventDetailType),
		Detail:     aws.String(string(detail)),
	}
	if s.bus != "" {
		entry.EventBusName = aws.String(s.bus)
	}

	result, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", event.SessionID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("sessionId", event.SessionID).Str("action", event.Action).Msg("ItemFeedback emitted to EventBridge")
	return nil
}

package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/fpang/item-identify/internal/match"
	"github.com/fpang/item-identify/internal/store"
)

type captureSink struct {
	events []Event
	err    error
}

func (c *captureSink) Emit(_ context.Context, e Event) error {
	c.events = append(c.events, e)
	return c.err
}

func candidate(id string, score float64) match.Candidate {
	return match.Candidate{FamilyID: id, Category: "watches", Brand: "Omega", BestScore: score, AvgTop3Score: score, SupportCount: 3}
}

func newSession(t *testing.T, s store.SessionStore, hash string, d match.Decision) *store.MatchSession {
	t.Helper()
	stored, _, err := s.CreateSession(context.Background(), &store.MatchSession{
		UserID:    "u1",
		Category:  "watches",
		ImageHash: hash,
		Decision:  match.Wrap(d),
	})
	if err != nil {
		t.Fatal(err)
	}
	return stored
}

func TestAction(t *testing.T) {
	top := match.RankedResult{candidate("a", 0.9), candidate("b", 0.85)}
	auto := match.AutoSelected{Outcome: match.Outcome{TopMatches: top}, Candidate: top[0]}
	pick := match.UserRequired{Outcome: match.Outcome{TopMatches: top}}

	tests := []struct {
		name   string
		d      match.Decision
		chosen string
		want   string
	}{
		{"auto confirmed", auto, "a", store.ActionConfirmed},
		{"auto corrected", auto, "b", store.ActionCorrected},
		{"user picked top", pick, "a", store.ActionConfirmed},
		{"user picked runner-up", pick, "b", store.ActionCorrected},
		{"no candidates", match.NoConfidentMatch{Reason: match.ReasonNoCandidates}, "x", store.ActionCorrected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Action(tt.d, tt.chosen); got != tt.want {
				t.Errorf("Action = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRecordFeedback(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	sink := &captureSink{}
	r := NewRecorder(s, sink)

	top := match.RankedResult{candidate("omega-seamaster", 0.9)}
	session := newSession(t, s, "h1", match.AutoSelected{Outcome: match.Outcome{BestScore: 0.9, TopMatches: top}, Candidate: top[0]})

	fb, err := r.RecordFeedback(ctx, Request{SessionID: session.ID, ChosenFamilyID: "omega-seamaster"})
	if err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if fb.Action != store.ActionConfirmed || !fb.WasAutoSelected || fb.UserID != "u1" || fb.Category != "watches" {
		t.Errorf("feedback = %+v", fb)
	}

	got, _ := s.GetSession(ctx, session.ID)
	if got.ResolvedFamilyID != "omega-seamaster" {
		t.Errorf("session not resolved: %+v", got)
	}

	if len(sink.events) != 1 {
		t.Fatalf("events = %d", len(sink.events))
	}
	if e := sink.events[0]; e.AutoSelectedFamilyID != "omega-seamaster" || e.Decision != match.KindAutoSelected || e.ImageHash != "h1" {
		t.Errorf("event = %+v", e)
	}

	if _, err := r.RecordFeedback(ctx, Request{SessionID: session.ID, ChosenFamilyID: "other"}); !errors.Is(err, store.ErrFeedbackExists) {
		t.Errorf("second feedback err = %v, want ErrFeedbackExists", err)
	}
	if len(sink.events) != 1 {
		t.Error("event emitted for rejected feedback")
	}
}

func TestRecordFeedback_Errors(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(store.NewMemoryStore(), nil)

	if _, err := r.RecordFeedback(ctx, Request{SessionID: " ", ChosenFamilyID: "a"}); !errors.Is(err, ErrInvalidFeedback) {
		t.Errorf("blank session err = %v", err)
	}
	if _, err := r.RecordFeedback(ctx, Request{SessionID: "s"}); !errors.Is(err, ErrInvalidFeedback) {
		t.Errorf("blank family err = %v", err)
	}
	if _, err := r.RecordFeedback(ctx, Request{SessionID: "missing", ChosenFamilyID: "a"}); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("missing session err = %v", err)
	}
}

func TestRecordFeedback_SinkFailureIgnored(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, &captureSink{err: errors.New("bus unavailable")})
	session := newSession(t, s, "h2", match.UserRequired{Outcome: match.Outcome{TopMatches: match.RankedResult{candidate("a", 0.8)}}})

	fb, err := r.RecordFeedback(context.Background(), Request{SessionID: session.ID, ChosenFamilyID: "z", UserID: "u9"})
	if err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if fb.Action != store.ActionCorrected || fb.WasAutoSelected || fb.UserID != "u9" {
		t.Errorf("feedback = %+v", fb)
	}
}

type fakeEventBridge struct {
	in  *eventbridge.PutEventsInput
	out *eventbridge.PutEventsOutput
	err error
}

func (f *fakeEventBridge) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestEventBridgeSink(t *testing.T) {
	fake := &fakeEventBridge{}
	sink := NewEventBridgeSink(fake, "identify-bus")
	if err := sink.Emit(context.Background(), Event{SessionID: "s1", ChosenFamilyID: "a", Action: store.ActionConfirmed}); err != nil {
		t.Fatal(err)
	}
	entry := fake.in.Entries[0]
	if aws.ToString(entry.Source) != EventSource || aws.ToString(entry.DetailType) != EventDetailType || aws.ToString(entry.EventBusName) != "identify-bus" {
		t.Errorf("entry = %+v", entry)
	}
	var detail Event
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail); err != nil || detail.SessionID != "s1" {
		t.Errorf("detail = %s (%v)", aws.ToString(entry.Detail), err)
	}

	failed := &fakeEventBridge{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries:          []eventbridgetypes.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure")}},
	}}
	if err := NewEventBridgeSink(failed, "").Emit(context.Background(), Event{}); err == nil {
		t.Error("failed entry not reported")
	}
	if failed.in.Entries[0].EventBusName != nil {
		t.Error("empty bus name should use the default bus")
	}
}

// Package main is the direct-invoke Lambda for item identification, used by
// Step Functions and other back-end callers that already hold an S3 key.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/config"
	"github.com/fpang/item-identify/internal/feedback"
	"github.com/fpang/item-identify/internal/identify"
	"github.com/fpang/item-identify/internal/imagesource"
	"github.com/fpang/item-identify/internal/lambdaboot"
	"github.com/fpang/item-identify/internal/logging"
	"github.com/fpang/item-identify/internal/store"
)

var components *lambdaboot.Components

// Event is the invocation payload. Action defaults to "identify".
type Event struct {
	Action string `json:"action,omitempty"`

	ImageKey string `json:"imageKey,omitempty"`
	ImageURI string `json:"imageUri,omitempty"`
	Category string `json:"category,omitempty"`
	UserID   string `json:"userId,omitempty"`

	SessionID      string `json:"sessionId,omitempty"`
	ChosenFamilyID string `json:"chosenFamilyId,omitempty"`
}

// Response carries the result of the requested action.
type Response struct {
	Result   *identify.Result `json:"result,omitempty"`
	Feedback *store.Feedback  `json:"feedback,omitempty"`
}

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	ctx := context.Background()
	awsCfg, err := lambdaboot.LoadAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	components, err = lambdaboot.Build(ctx, cfg, awsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build identification service")
	}

	lambdaboot.StartupLog("identify-lambda", cfg, components, initStart).Log()
}

func handler(ctx context.Context, event Event) (Response, error) {
	switch event.Action {
	case "", "identify":
		return handleIdentify(ctx, event)
	case "feedback":
		return handleFeedback(ctx, event)
	default:
		return Response{}, fmt.Errorf("unknown action %q", event.Action)
	}
}

func handleIdentify(ctx context.Context, event Event) (Response, error) {
	var (
		img imagesource.Image
		err error
	)
	switch {
	case event.ImageURI != "":
		img, err = components.Loader.Load(ctx, event.ImageURI)
	case event.ImageKey != "":
		img, err = components.Loader.FromS3Key(ctx, event.ImageKey)
	default:
		return Response{}, fmt.Errorf("%w: imageKey or imageUri is required", identify.ErrInvalidRequest)
	}
	if err != nil {
		return Response{}, fmt.Errorf("load image: %w", err)
	}

	res, err := components.Identify.Identify(ctx, identify.Request{
		Image:    img,
		Category: event.Category,
		UserID:   event.UserID,
	})
	if err != nil {
		log.Error().Err(err).Str("category", event.Category).Msg("Identification failed")
		return Response{}, err
	}
	return Response{Result: &res}, nil
}

func handleFeedback(ctx context.Context, event Event) (Response, error) {
	fb, err := components.Feedback.RecordFeedback(ctx, feedback.Request{
		SessionID:      event.SessionID,
		ChosenFamilyID: event.ChosenFamilyID,
		UserID:         event.UserID,
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Feedback: fb}, nil
}

func main() {
	lambda.Start(handler)
}

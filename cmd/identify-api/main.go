// Package main is the API Gateway Lambda for item identification.
//
// The HTTP routes live in internal/api; this binary wires them at cold start
// and serves them through the Lambda HTTP adapter. Outside Lambda it listens on
// IDENTIFY_LISTEN_ADDR instead.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/api"
	"github.com/fpang/item-identify/internal/config"
	"github.com/fpang/item-identify/internal/lambdaboot"
	"github.com/fpang/item-identify/internal/logging"
)

var handler http.Handler

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

	c, err := lambdaboot.Build(ctx, cfg, awsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build identification service")
	}

	if cfg.OriginVerifySecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set, origin verification disabled")
	}

	handler = api.NewServer(api.Options{
		Identifier:   c.Identify,
		Feedback:     c.Feedback,
		Sessions:     c.Sessions,
		Loader:       c.Loader,
		OriginSecret: cfg.OriginVerifySecret,
	}).Handler()

	lambdaboot.StartupLog("identify-api", cfg, c, initStart).Log()
}

func main() {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") == "" {
		addr := config.EnvOrDefault("IDENTIFY_LISTEN_ADDR", ":8080")
		log.Info().Str("addr", addr).Msg("Serving identification API locally")
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server stopped")
		}
		return
	}

	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}

package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracedlambda/internal/server"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	logger := srv.Logger()

	// Resolution and pipeline setup overlap with the runtime's init phase;
	// every invocation still waits for them to settle.
	srv.Bootstrap().Start()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Tracing.FlushTimeout)
		defer cancel()
		if err := srv.Close(ctx); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}

	logger.Info("Starting Lambda handler",
		zap.String("function", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")),
		zap.Duration("bootstrap_timeout", cfg.Tracing.BootstrapTimeout),
		zap.Duration("flush_timeout", cfg.Tracing.FlushTimeout),
	)

	lambda.StartWithOptions(srv.Adapter().Handle, lambda.WithEnableSIGTERM(shutdown))
}

package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http
//
// Run with ANALYSIS_DISPATCH=sqs: a Lambda is frozen once it answers, so
// inline analysis runs would stall until the next invocation.

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"unicornio-backend/internal/bootstrap"
	"unicornio-backend/internal/shared/config"
	"unicornio-backend/internal/shared/telemetry"
)

var (
	initOnce  sync.Once
	initErr   error
	ginLambda *ginadapter.GinLambdaV2
)

func initApp() {
	cfg := config.Load()
	if cfg.AnalysisDispatch != config.DispatchSQS {
		telemetry.Warn("lambda.inline_dispatch", map[string]any{"dispatch": cfg.AnalysisDispatch})
	}
	app, err := bootstrap.Build(context.Background(), cfg, bootstrap.RoleAPI)
	if err != nil {
		initErr = err
		return
	}
	ginLambda = ginadapter.NewV2(app.Router)
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		body, _ := json.Marshal(map[string]any{"success": false, "error": "Error al iniciar el servicio"})
		return events.APIGatewayV2HTTPResponse{
			StatusCode: 500,
			Body:       string(body),
			Headers:    map[string]string{"Content-Type": "application/json"},
		}, initErr
	}
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(handler)
}

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/widgetchat/cmd/mainconfig"
	"github.com/wolfman30/widgetchat/internal/app/bootstrap"
	appconfig "github.com/wolfman30/widgetchat/internal/config"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	redisClient, err := bootstrap.BuildRedisClient(ctx, cfg, logger, false)
	if err != nil {
		logger.Error("failed to build redis client", "error", err)
		os.Exit(1)
	}
	app, err := bootstrap.BuildApp(ctx, cfg, bootstrap.Deps{
		AWS:      awsCfg,
		Redis:    redisClient,
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}
	app.Start(ctx)

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		resp, err := handle(ctx, app.Handler, evt)
		app.Flush(ctx)
		return resp, err
	})
}

// handle serves one API Gateway HTTP API event through the chat router.
// WebSocket upgrades are not available behind API Gateway HTTP APIs.
func handle(ctx context.Context, handler http.Handler, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}
	if path == "" {
		path = "/"
	}
	if strings.HasSuffix(path, "/ws") {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotImplemented, Body: "websocket unsupported"}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}

	target := path
	if qs := strings.TrimSpace(evt.RawQueryString); qs != "" {
		target += "?" + qs
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid request"}, nil
	}
	for k, v := range evt.Headers {
		req.Header.Set(k, v)
	}
	if len(evt.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(evt.Cookies, "; "))
	}
	if ip := strings.TrimSpace(evt.RequestContext.HTTP.SourceIP); ip != "" {
		req.RemoteAddr = ip + ":0"
		if headerValue(evt.Headers, "x-forwarded-for") == "" {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	if host := strings.TrimSpace(evt.RequestContext.DomainName); host != "" {
		req.Host = host
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	out := events.APIGatewayV2HTTPResponse{
		StatusCode: rec.Code,
		Body:       rec.Body.String(),
		Headers:    map[string]string{},
	}
	for k, values := range rec.Header() {
		if len(values) > 0 {
			out.Headers[strings.ToLower(k)] = strings.Join(values, ",")
		}
	}
	return out, nil
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

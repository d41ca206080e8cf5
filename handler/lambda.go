package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
)

const correlationHeader = "X-Correlation-Id"

// LambdaFunc is the signature expected by lambda.Start for API Gateway
// proxy integrations.
type LambdaFunc func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// Lambda adapts an http.Handler to API Gateway proxy events.
func Lambda(next http.Handler) LambdaFunc {
	return func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		req, err := toHTTPRequest(ctx, event)
		if err != nil {
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusBadRequest,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       `{"ok":false,"error":"malformed request","code":"INVALID_INPUT"}`,
			}, nil
		}

		corrID := correlationID(event)
		req.Header.Set(correlationHeader, corrID)
		if req.Header.Get("X-Request-Id") == "" {
			req.Header.Set("X-Request-Id", corrID)
		}

		rw := newResponseBuffer()
		next.ServeHTTP(rw, req)

		headers := make(map[string]string, len(rw.header)+1)
		multi := make(map[string][]string, len(rw.header))
		for k, v := range rw.header {
			if len(v) > 0 {
				headers[k] = v[0]
			}
			multi[k] = v
		}
		headers[correlationHeader] = corrID

		return events.APIGatewayProxyResponse{
			StatusCode:        rw.status,
			Headers:           headers,
			MultiValueHeaders: multi,
			Body:              rw.body.String(),
		}, nil
	}
}

func toHTTPRequest(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("handler: decode body: %w", err)
		}
		body = decoded
	}

	q := url.Values{}
	for k, vs := range event.MultiValueQueryStringParameters {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	for k, v := range event.QueryStringParameters {
		if _, ok := q[k]; !ok {
			q.Set(k, v)
		}
	}
	u := url.URL{Path: event.Path, RawQuery: q.Encode()}

	req, err := http.NewRequestWithContext(ctx, event.HTTPMethod, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("handler: build request: %w", err)
	}
	for k, vs := range event.MultiValueHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, v := range event.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if ip := event.RequestContext.Identity.SourceIP; ip != "" {
		req.RemoteAddr = ip + ":0"
	}
	return req, nil
}

// correlationID prefers the caller's header, then the API Gateway request id.
func correlationID(event events.APIGatewayProxyRequest) string {
	for k, v := range event.Headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if event.RequestContext.RequestID != "" {
		return event.RequestContext.RequestID
	}
	return uuid.NewString()
}

// responseBuffer collects a handler's response for the proxy result.
type responseBuffer struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: http.Header{}, status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.status = status
	b.wroteHeader = true
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

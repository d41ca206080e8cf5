package handler

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"agent-inbox/internal/usecase"
)

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func TestLambda_RoutesThroughRouter(t *testing.T) {
	msgs := &stubMessages{sendOut: usecase.SendOutput{ThreadID: "t1", Response: "Echo: B", MessageCount: 2}}
	fn := Lambda(newTestRouter(t, msgs, &stubAuth{}))

	resp, err := fn(context.Background(), makeEvent(http.MethodPost, "/api/messages/send",
		`{"userId":"u1","agentType":"vendor","threadId":"t1","subject":"S","body":"B"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ok":true,"threadId":"t1","response":"Echo: B","messageCount":2}`, resp.Body)
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestLambda_QueryParameters(t *testing.T) {
	msgs := &stubMessages{}
	fn := Lambda(newTestRouter(t, msgs, &stubAuth{}))

	event := makeEvent(http.MethodGet, "/messages", "")
	event.QueryStringParameters = map[string]string{"userId": "u1", "agentType": "port"}
	resp, err := fn(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "u1", msgs.listUser)
	require.Equal(t, "port", msgs.listAgt)
}

func TestLambda_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	fn := Lambda(newTestRouter(t, &stubMessages{}, &stubAuth{}))

	event := makeEvent(http.MethodGet, "/health", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := fn(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])

	event = makeEvent(http.MethodGet, "/health", "")
	event.RequestContext.RequestID = "apigw-req-1"
	resp, err = fn(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "apigw-req-1", resp.Headers["X-Correlation-Id"])
}

func TestLambda_Base64Body(t *testing.T) {
	var got string
	fn := Lambda(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))

	event := makeEvent(http.MethodPost, "/x", base64.StdEncoding.EncodeToString([]byte(`{"a":1}`)))
	event.IsBase64Encoded = true
	resp, err := fn(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, `{"a":1}`, got)

	event.Body = "%%%not-base64"
	resp, err = fn(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

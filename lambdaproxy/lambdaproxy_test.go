package lambdaproxy

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(method, path, query, body string) events.APIGatewayV2HTTPRequest {
	ev := events.APIGatewayV2HTTPRequest{
		RawPath:        path,
		RawQueryString: query,
		Headers:        map[string]string{"content-type": "application/json"},
		Body:           body,
	}
	ev.RequestContext.HTTP.Method = method
	ev.RequestContext.HTTP.SourceIP = "203.0.113.9"
	ev.RequestContext.DomainName = "abc.execute-api.eu-west-1.amazonaws.com"
	ev.RequestContext.RequestID = "req-1"
	return ev
}

func TestRequest(t *testing.T) {
	ev := event("POST", "/lists", "id=42", `{"version":1}`)
	ev.Cookies = []string{"a=1", "b=2"}

	req, err := Request(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/lists", req.URL.Path)
	assert.Equal(t, "42", req.URL.Query().Get("id"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "https", req.Header.Get("X-Forwarded-Proto"))
	assert.Equal(t, "abc.execute-api.eu-west-1.amazonaws.com", req.Host)
	assert.Equal(t, "203.0.113.9:0", req.RemoteAddr)
	assert.Equal(t, "req-1", req.Header.Get("X-Amzn-Request-Id"))
	c, err := req.Cookie("b")
	require.NoError(t, err)
	assert.Equal(t, "2", c.Value)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(body))
	assert.Equal(t, int64(len(body)), req.ContentLength)
}

func TestRequestBase64(t *testing.T) {
	ev := event("POST", "/lists", "", base64.StdEncoding.EncodeToString([]byte(`{"version":0}`)))
	ev.IsBase64Encoded = true
	req, err := Request(context.Background(), ev)
	require.NoError(t, err)
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"version":0}`, string(body))

	ev.Body = "!!!"
	_, err = Request(context.Background(), ev)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://"+r.Host+r.URL.Path+"?id=7")
		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Accept")
		http.SetCookie(w, &http.Cookie{Name: "s", Value: "1"})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	resp, err := New(h)(context.Background(), event("POST", "/lists", "", `{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "https://abc.execute-api.eu-west-1.amazonaws.com/lists?id=7", resp.Headers["Location"])
	assert.Equal(t, []string{"Origin", "Accept"}, resp.MultiValueHeaders["Vary"])
	assert.Equal(t, []string{"s=1"}, resp.Cookies)
	assert.False(t, resp.IsBase64Encoded)
	assert.Equal(t, `{"ok":true}`, resp.Body)
}

func TestResponseBinary(t *testing.T) {
	h := http.Header{"Content-Type": []string{"application/octet-stream"}}
	resp := Response(http.StatusOK, h, []byte{0xff, 0x00})
	assert.True(t, resp.IsBase64Encoded)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0x00}), resp.Body)

	resp = Response(http.StatusNoContent, http.Header{}, nil)
	assert.False(t, resp.IsBase64Encoded)
	assert.Empty(t, resp.Body)
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSendsTextPayload(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second, zerolog.Nop())
	require.NoError(t, wh.Notify(context.Background(), "bob 已登录 OpenVPN。登录IP: 10.0.0.5"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"msgtype":"text","text":{"content":"bob 已登录 OpenVPN。登录IP: 10.0.0.5"}}`, string(gotBody))
}

func TestWebhookAccepts2xx(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))
		wh := NewWebhook(srv.URL, time.Second, zerolog.Nop())
		assert.NoError(t, wh.Notify(context.Background(), "hi"), "status %d", code)
		srv.Close()
	}
}

func TestWebhookNon2xxIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid webhook key", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second, zerolog.Nop()).Notify(context.Background(), "hi")
	require.Error(t, err)

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusForbidden, de.StatusCode)
	assert.Equal(t, "invalid webhook key", de.Body)
	assert.Contains(t, de.Error(), "403")
}

func TestWebhookTruncatesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second, zerolog.Nop()).Notify(context.Background(), "hi")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Len(t, de.Body, maxErrorBody)
}

func TestWebhookTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	wh := NewWebhook(srv.URL, 50*time.Millisecond, zerolog.Nop())
	start := time.Now()
	err := wh.Notify(context.Background(), "hi")
	require.Error(t, err)

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Zero(t, de.StatusCode)
	assert.NotNil(t, errors.Unwrap(de))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWebhookUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewWebhook(url, time.Second, zerolog.Nop()).Notify(context.Background(), "hi")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Error(), "webhook delivery failed")
}

func TestWebhookLogsNonZeroErrcode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"errcode":93000,"errmsg":"invalid webhook url"}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	err := NewWebhook(srv.URL, time.Second, zerolog.New(&buf)).Notify(context.Background(), "hi")
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.EqualValues(t, 93000, entry["errcode"])
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Log: zerolog.New(&buf)}
	require.NoError(t, n.Notify(context.Background(), "alice 已从 OpenVPN 登出。"))
	assert.Contains(t, buf.String(), "alice 已从 OpenVPN 登出。")
}

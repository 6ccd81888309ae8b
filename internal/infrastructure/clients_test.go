package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhatsAppCloudClientSendMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/PN123/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWhatsAppCloudClient("tok", "PN123", srv.URL, 10)
	require.NoError(t, c.SendMessage(context.Background(), "254700000001", "Likely tinea corporis."))

	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "254700000001", got["to"])
	text := got["text"].(map[string]any)
	assert.Equal(t, "Likely tinea corporis.", text["body"])
}

func TestWhatsAppCloudClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWhatsAppCloudClient("tok", "PN", srv.URL, 10)
	c.retry = RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	require.NoError(t, c.SendMessage(context.Background(), "1", "hi"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWhatsAppCloudClientClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewWhatsAppCloudClient("tok", "PN", srv.URL, 10)
	err := c.SendMessage(context.Background(), "1", "hi")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

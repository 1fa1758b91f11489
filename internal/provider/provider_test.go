package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teaminbox/internal/config"
)

func TestHTTPSender_Send(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.sent.1"}},
		})
	}))
	defer srv.Close()

	sender := NewHTTPSender(&config.ProviderConfig{BaseURL: srv.URL, AccessToken: "tok-1"})

	id, err := sender.Send(context.Background(), "phone-1", "8613800000000", "您好")
	require.NoError(t, err)
	assert.Equal(t, "wamid.sent.1", id)

	assert.Equal(t, "/phone-1/messages", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "8613800000000", gotBody["to"])
	text := gotBody["text"].(map[string]interface{})
	assert.Equal(t, "您好", text["body"])
}

func TestHTTPSender_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sender := NewHTTPSender(&config.ProviderConfig{BaseURL: srv.URL})
	_, err := sender.Send(context.Background(), "phone-1", "861", "hi")
	assert.Error(t, err)
}

func TestHTTPSender_MissingMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	sender := NewHTTPSender(&config.ProviderConfig{BaseURL: srv.URL})
	_, err := sender.Send(context.Background(), "phone-1", "861", "hi")
	assert.Error(t, err)
}

package tavus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConversation(t *testing.T) {
	var got CreateConversationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/conversations", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversation_id":"c123","conversation_url":"https://tavus.daily.co/c123","status":"active"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", time.Second)
	conv, err := c.CreateConversation(context.Background(), CreateConversationRequest{
		ReplicaID:   "r1",
		PersonaID:   "p1",
		CallbackURL: "https://kokoro.example.com/webhooks/tavus",
		Properties: ConversationProperties{
			MaxCallDuration: 1800,
			Language:        "spanish",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "c123", conv.ConversationID)
	assert.Equal(t, "https://tavus.daily.co/c123", conv.ConversationURL)

	assert.Equal(t, "r1", got.ReplicaID)
	assert.Equal(t, "p1", got.PersonaID)
	assert.Equal(t, 1800, got.Properties.MaxCallDuration)
	assert.Equal(t, "spanish", got.Properties.Language)
}

func TestCreateConversationEmptyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversation_id":"c123"}`))
	}))
	defer srv.Close()

	conv, err := NewClient(srv.URL, "k", time.Second).CreateConversation(context.Background(), CreateConversationRequest{})
	require.NoError(t, err, "a missing URL is left for the caller to decide")
	assert.Empty(t, conv.ConversationURL)
}

func TestCreateConversationMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversation_url":"https://x"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", time.Second).CreateConversation(context.Background(), CreateConversationRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation_id")
}

func TestCreateConversationProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"message":"out of credits"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", time.Second).CreateConversation(context.Background(), CreateConversationRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "out of credits", apiErr.Message)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestEndConversation(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v2/conversations/c123/end", r.URL.Path)
			assert.Equal(t, "k", r.Header.Get("x-api-key"))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		require.NoError(t, NewClient(srv.URL, "k", time.Second).EndConversation(context.Background(), "c123"))
	})

	t.Run("not found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no such conversation", http.StatusNotFound)
		}))
		defer srv.Close()

		err := NewClient(srv.URL, "k", time.Second).EndConversation(context.Background(), "c123")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Contains(t, err.Error(), "no such conversation")
	})

	t.Run("empty id", func(t *testing.T) {
		err := NewClient("http://127.0.0.1:1", "k", time.Second).EndConversation(context.Background(), "")
		require.Error(t, err)
	})
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "k", 20*time.Millisecond).EndConversation(context.Background(), "c1")
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "transport failures are not provider responses")
}

func TestLanguage(t *testing.T) {
	cases := map[string]string{
		"":        "english",
		"en":      "english",
		"EN-us":   "english",
		"es":      "spanish",
		"Spanish": "spanish",
		"pt_BR":   "portuguese",
		"ja":      "japanese",
		"klingon": "english",
		"  fr  ":  "french",
	}
	for in, want := range cases {
		assert.Equal(t, want, Language(in), "Language(%q)", in)
	}
}

package indexao

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

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", srv.Client())
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://host", nil)
	assert.Error(t, err)
	_, err = NewClient("://", nil)
	assert.Error(t, err)
}

func TestSwitch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/plugins/switch", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"adapter_type": "ocr", "adapter_name": "chandra"}, body)
		_ = json.NewEncoder(w).Encode(SwitchResult{Status: "success", Message: "Switched to ocr/mock", Active: "mock"})
	}))

	res, err := c.Switch(context.Background(), "ocr", "chandra")
	require.NoError(t, err)
	assert.Equal(t, "mock", res.Active)
}

func TestQueries(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/plugins", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ocr", r.URL.Query().Get("kind"))
		_ = json.NewEncoder(w).Encode([]Plugin{{Name: "tesseract", Type: "ocr", Version: "1.0.0", Enabled: true}})
	})
	mux.HandleFunc("GET /api/plugins/active", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"type":"ocr","name":"mock"},{"type":"translator","name":null}]`))
	})
	mux.HandleFunc("GET /api/plugins/{kind}/active", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ActiveAdapter{Type: r.PathValue("kind"), Name: "meilisearch"})
	})
	mux.HandleFunc("GET /api/plugins/registered", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ocr":["mock"],"translator":[],"search":["mock","redis"]}`))
	})
	mux.HandleFunc("GET /api/plugins/history", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "search", q.Get("kind"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "true", q.Get("persisted"))
		_ = json.NewEncoder(w).Encode(map[string]any{"history": []SwitchEvent{
			{ID: "e1", Type: "search", From: "mock", To: "redis", Timestamp: ts},
		}})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	plugins, err := c.ListPlugins(ctx, "ocr")
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "tesseract", plugins[0].Name)

	active, err := c.ActiveAdapters(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ActiveAdapter{{Type: "ocr", Name: "mock"}, {Type: "translator"}}, active)

	one, err := c.ActiveAdapter(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, ActiveAdapter{Type: "search", Name: "meilisearch"}, one)

	registered, err := c.Registered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mock", "redis"}, registered["search"])
	assert.Empty(t, registered["translator"])

	events, err := c.History(ctx, HistoryQuery{Type: "search", Limit: 5, Persisted: true})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "redis", events[0].To)
	assert.True(t, ts.Equal(events[0].Timestamp))
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/plugins/speech/active" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"INVALID_ARGUMENT","message":"Invalid adapter_type: speech"}}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down\n"))
	}))

	_, err := c.ActiveAdapter(context.Background(), "speech")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Code)
	assert.Equal(t, "indexao api error (400): INVALID_ARGUMENT - Invalid adapter_type: speech", err.Error())

	_, err = c.Registered(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
}

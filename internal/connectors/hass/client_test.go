package hass

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fentz26/presencesim/internal/connectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/", "secret")
}

func TestStates(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/states", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"entity_id": "light.kitchen", "state": "on", "attributes": map[string]interface{}{"friendly_name": "Kitchen"}},
			{"entity_id": "sun.sun", "state": "below_horizon"},
		})
	})

	states, err := c.States(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "Kitchen", states[0].FriendlyName())
	assert.Equal(t, "sun.sun", states[1].FriendlyName())
}

func TestState_NotFound(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/states/sun.sun" {
			json.NewEncoder(w).Encode(map[string]string{"entity_id": "sun.sun", "state": "above_horizon"})
			return
		}
		http.Error(w, "Entity not found.", http.StatusNotFound)
	})

	st, err := c.State(context.Background(), "sun.sun")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "above_horizon", st.State)

	st, err = c.State(context.Background(), "sensor.missing")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestCall(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("[]"))
	})

	require.NoError(t, c.Call(context.Background(), "light", "turn_on", "light.kitchen"))
	assert.Equal(t, "/services/light/turn_on", gotPath)
	assert.Equal(t, map[string]string{"entity_id": "light.kitchen"}, gotBody)
}

func TestCall_HTTPError(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Service not found", http.StatusBadRequest)
	})

	err := c.Call(context.Background(), "light", "explode", "light.kitchen")
	var callErr *connectors.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, connectors.KindHTTP, callErr.Kind)
	assert.Equal(t, http.StatusBadRequest, callErr.Status)
	assert.Equal(t, "Service not found", callErr.Detail)
}

func TestCall_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	c := NewClient(ts.URL, "secret")
	ts.Close()

	err := c.Call(context.Background(), "light", "turn_on", "light.kitchen")
	var callErr *connectors.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, connectors.KindNetwork, callErr.Kind)
}

func TestHistory(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/history/period/2024-01-01T12:00:00Z", r.URL.Path)
		assert.Equal(t, "light.kitchen", r.URL.Query().Get("filter_entity_id"))
		assert.Equal(t, "2024-01-15T12:00:00Z", r.URL.Query().Get("end_time"))
		assert.Equal(t, "1", r.URL.Query().Get("minimal_response"))
		w.Write([]byte(`[[
			{"entity_id":"light.kitchen","state":"on","last_changed":"2024-01-02T19:00:00+00:00"},
			{"state":"off","last_changed":"2024-01-02T19:40:00+00:00"}
		]]`))
	})
	c.now = func() time.Time { return now }

	events, err := c.History(context.Background(), "light.kitchen", 14)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "on", events[0].State)
	assert.Equal(t, "2024-01-02T19:40:00+00:00", events[1].Timestamp())
}

func TestHistory_Empty(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	events, err := c.History(context.Background(), "light.kitchen", 14)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPing_Unauthorized(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"API running."}`))
	})
	require.NoError(t, c.Ping(context.Background()))

	c.token = "wrong"
	err := c.Ping(context.Background())
	var callErr *connectors.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, http.StatusUnauthorized, callErr.Status)
}

func TestEnvSettings(t *testing.T) {
	t.Setenv(BaseURLEnv, "")
	t.Setenv(TokenEnv, "")
	base, token := EnvSettings()
	assert.Equal(t, DefaultBaseURL, base)
	assert.Empty(t, token)

	t.Setenv(BaseURLEnv, "http://ha.local:8123/api")
	t.Setenv(TokenEnv, "abc")
	base, token = EnvSettings()
	assert.Equal(t, "http://ha.local:8123/api", base)
	assert.Equal(t, "abc", token)
}

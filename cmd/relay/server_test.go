package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrodrone/mission/internal/bus"
	"github.com/hydrodrone/mission/pkg/streaming"
)

func getHealth(t *testing.T, srv *httptest.Server) health {
	t.Helper()
	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var h health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	return h
}

func TestMux_Healthcheck(t *testing.T) {
	relay := bus.NewRelay("", nil)
	srv := httptest.NewServer(newMux(relay))
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})

	h := getHealth(t, srv)
	assert.Equal(t, "ok", h.Status)
	assert.Zero(t, h.Clients)
	assert.Len(t, h.Subscribers, len(healthTopics))

	resp, err := http.Post(srv.URL+"/healthcheck", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMux_BusCountsClients(t *testing.T) {
	relay := bus.NewRelay("s3cret", nil)
	srv := httptest.NewServer(newMux(relay))
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + BusPath

	_, resp, err := ws.DefaultDialer.Dial(url+"?secret=wrong", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := ws.DefaultDialer.Dial(url+"?secret=s3cret", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return getHealth(t, srv).Clients == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, getHealth(t, srv).Subscribers[streaming.TopicVision], "clients without a hello receive everything")
}

package main

import (
	"encoding/json"
	"net/http"

	"github.com/hydrodrone/mission/internal/bus"
	"github.com/hydrodrone/mission/pkg/streaming"
)

// BusPath is where nodes dial the relay.
const BusPath = "/bus"

var healthTopics = []string{
	streaming.TopicVision,
	streaming.TopicWinch,
	streaming.TopicIMU,
	streaming.TopicMissionState,
	streaming.TopicMotorStatus,
}

type health struct {
	Status      string         `json:"status"`
	Clients     int            `json:"clients"`
	Subscribers map[string]int `json:"subscribers"`
}

func newMux(relay *bus.Relay) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(BusPath, relay)
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		h := health{Status: "ok", Clients: relay.Clients(), Subscribers: map[string]int{}}
		for _, topic := range healthTopics {
			h.Subscribers[topic] = relay.Subscribers(topic)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h)
	})
	return mux
}

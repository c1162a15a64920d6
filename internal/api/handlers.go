package api

import (
	"encoding/json"
	"net/http"
	"time"

	"lego-hub-manager/internal/fleet"
	"lego-hub-manager/internal/stats"
)

// Fleet is the command and snapshot surface the HTTP API serves
type Fleet interface {
	SetChannelSpeed(channel, speed int) error
	ChannelSpeed(channel int) int8
	Channels() int
	RequestScan()
	Snapshot() fleet.Snapshot
}

type Handler struct {
	fleet      Fleet
	stats      *stats.Collector
	wsHub      *Hub
	startTime  time.Time
	appVersion string
}

func NewHandler(f Fleet, st *stats.Collector, hub *Hub) *Handler {
	return &Handler{
		fleet:     f,
		stats:     st,
		wsHub:     hub,
		startTime: time.Now(),
	}
}

// ========== Types ==========

type StatusResponse struct {
	Uptime  int64             `json:"uptime"`
	Version string            `json:"version"`
	Fleet   fleet.Snapshot    `json:"fleet"`
	History []stats.DataPoint `json:"history"`
}

type ChannelStatus struct {
	Channel int    `json:"channel"`
	Color   string `json:"color"`
	Speed   int8   `json:"speed"`
}

type SpeedRequest struct {
	Speed *int `json:"speed"`
}

// ========== Helper Methods ==========

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{
		"error": message,
	})
}

func (h *Handler) uptime() time.Duration {
	return time.Since(h.startTime)
}

func (h *Handler) SetVersion(version string) {
	h.appVersion = version
}

func (h *Handler) GetVersion() string {
	return h.appVersion
}

// Routes registers every endpoint on a new mux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", h.HandleStatus)
	mux.HandleFunc("/api/version", h.HandleVersion)
	mux.HandleFunc("/api/channels", h.HandleChannels)
	mux.HandleFunc("/api/channels/", h.HandleSetChannel)
	mux.HandleFunc("/api/scan", h.HandleScan)
	mux.HandleFunc("/api/debug", h.HandleDebugMode)
	mux.HandleFunc("/ws", h.HandleWebSocket)
	return mux
}

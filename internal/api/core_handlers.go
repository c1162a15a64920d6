package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"lego-hub-manager/internal/fleet"
	"lego-hub-manager/internal/hub"
	"lego-hub-manager/internal/logger"
	"lego-hub-manager/internal/version"
)

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		Uptime:  int64(h.uptime().Seconds()),
		Version: h.GetVersion(),
		Fleet:   h.fleet.Snapshot(),
	}
	if h.stats != nil {
		resp.History = h.stats.History()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, version.GetBuildInfo())
}

func (h *Handler) channelStatus(channel int) ChannelStatus {
	return ChannelStatus{
		Channel: channel,
		Color:   hub.ChannelColor(channel).String(),
		Speed:   h.fleet.ChannelSpeed(channel),
	}
}

func (h *Handler) HandleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	channels := make([]ChannelStatus, h.fleet.Channels())
	for i := range channels {
		channels[i] = h.channelStatus(i)
	}
	writeJSON(w, http.StatusOK, channels)
}

// HandleSetChannel serves PUT /api/channels/{channel}
func (h *Handler) HandleSetChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	channel, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/channels/"))
	if err != nil {
		jsonError(w, "channel must be a number", http.StatusBadRequest)
		return
	}

	var req SpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.Speed == nil {
		jsonError(w, "speed is required", http.StatusBadRequest)
		return
	}

	if err := h.fleet.SetChannelSpeed(channel, *req.Speed); err != nil {
		if errors.Is(err, fleet.ErrInvalidChannel) {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Info("[API] channel %d speed %d", channel, *req.Speed)
	writeJSON(w, http.StatusOK, h.channelStatus(channel))
}

func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.fleet.RequestScan()
	snap := h.fleet.Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":     "scanning",
		"scan_until": snap.ScanUntil,
	})
}

func (h *Handler) HandleDebugMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"debug": logger.IsDebug(),
		})

	case http.MethodPost:
		var req struct {
			Debug bool `json:"debug"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
			return
		}

		logger.SetDebug(req.Debug)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"debug":  req.Debug,
			"status": "updated",
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleConnection(w, r)
}

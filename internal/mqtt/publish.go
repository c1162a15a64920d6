package mqtt

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/samber/lo"

	"lego-hub-manager/internal/fleet"
	"lego-hub-manager/internal/logger"
)

// StatusUpdate is the periodic JSON status document
type StatusUpdate struct {
	Uptime    int64  `json:"uptime"`
	Tasks     int    `json:"tasks"`
	Connected int    `json:"connected"`
	Remotes   int    `json:"remotes"`
	Channels  int    `json:"channels"`
	Speeds    []int8 `json:"speeds"`
	Scanning  bool   `json:"scanning"`
}

func newStatusUpdate(snap fleet.Snapshot, uptime time.Duration) StatusUpdate {
	return StatusUpdate{
		Uptime:    int64(uptime.Seconds()),
		Tasks:     len(snap.Sessions),
		Connected: snap.Connected,
		Remotes: lo.CountBy(snap.Slots, func(s fleet.SlotSnapshot) bool {
			return s.Connected && s.IsRemote
		}),
		Channels: len(snap.Speeds),
		Speeds:   snap.Speeds,
		Scanning: snap.Scanning,
	}
}

func (s *Service) publishStatus() {
	data, err := json.Marshal(newStatusUpdate(s.fleet.Snapshot(), time.Since(s.started)))
	if err != nil {
		logger.Error("[MQTT] encode statusupdate: %v", err)
		return
	}
	s.publishAndWait(s.topics.state("statusupdate"), data)
}

func (s *Service) publishHubs() {
	slots := lo.Filter(s.fleet.Snapshot().Slots, func(slot fleet.SlotSnapshot, _ int) bool {
		return !slot.Address.IsZero()
	})
	data, err := json.Marshal(slots)
	if err != nil {
		logger.Error("[MQTT] encode hubs: %v", err)
		return
	}
	s.publish(s.topics.state("hubs"), true, data)
}

// publishSpeed runs on the goroutine that changed the speed and must not block
func (s *Service) publishSpeed(channel int, speed int8) {
	if !s.client.IsConnected() {
		return
	}
	s.publish(s.topics.state("speed/"+strconv.Itoa(channel)), true, strconv.Itoa(int(speed)))
}

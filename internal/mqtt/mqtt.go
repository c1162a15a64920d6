// Package mqtt exposes the fleet's command surface and state on an MQTT
// broker.
package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"lego-hub-manager/internal/config"
	"lego-hub-manager/internal/fleet"
	"lego-hub-manager/internal/logger"
)

const (
	statusOnline  = "ON"
	statusOffline = "OFF"

	publishTimeout = 5 * time.Second
)

// Fleet is the command surface the service drives
type Fleet interface {
	SetChannelSpeed(channel, speed int) error
	RequestScan()
	Channels() int
	Snapshot() fleet.Snapshot
	OnSpeedChange(fn func(channel int, speed int8))
}

// Service ingests commands and publishes state
type Service struct {
	client  paho_mqtt.Client
	cfg     config.MQTTConfig
	fleet   Fleet
	topics  topics
	started time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New builds a service with a paho client for cfg
func New(cfg config.MQTTConfig, f Fleet) *Service {
	s := newService(cfg, f, nil)
	s.client = paho_mqtt.NewClient(s.clientOptions())
	return s
}

func newService(cfg config.MQTTConfig, f Fleet, client paho_mqtt.Client) *Service {
	return &Service{
		client:  client,
		cfg:     cfg,
		fleet:   f,
		topics:  newTopics(cfg),
		started: time.Now(),
	}
}

func (s *Service) clientOptions() *paho_mqtt.ClientOptions {
	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = "lego-hub-manager-" + uuid.NewString()[:8]
	}
	return paho_mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", s.cfg.Host, s.cfg.Port)).
		SetClientID(clientID).
		SetUsername(s.cfg.User).
		SetPassword(s.cfg.Password).
		SetWill(s.topics.status, statusOffline, 1, true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
			logger.Warn("[MQTT] connection lost: %v", err)
		})
}

// Connect dials the broker. The client keeps retrying in the background
// when the first attempt does not finish in time.
func (s *Service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(publishTimeout)
	if res {
		return token.Error()
	}
	if err := token.Error(); err != nil {
		return err
	}
	return errors.New("unable to connect in time")
}

// onConnect runs on every (re)connect
func (s *Service) onConnect(client paho_mqtt.Client) {
	logger.Info("[MQTT] connected, node topic %s", s.topics.node)
	for _, topic := range s.topics.subscriptions() {
		token := client.Subscribe(topic, 0, s.handleMessage)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			logger.Error("[MQTT] failed to subscribe to %s: %v", topic, token.Error())
			continue
		}
		logger.Debug("[MQTT] subscribed to %s", topic)
	}
	s.publish(s.topics.status, true, statusOnline)
	s.publishHubs()
}

// Start hooks speed changes and schedules the periodic state publishing
func (s *Service) Start() error {
	s.fleet.OnSpeedChange(s.publishSpeed)

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.StatusInterval), func() {
		s.publishStatus()
		s.publishHubs()
	}); err != nil {
		return fmt.Errorf("schedule status updates: %w", err)
	}
	c.Start()

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	return nil
}

// Close stops publishing, marks the node offline and disconnects
func (s *Service) Close() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}

	if s.client.IsConnected() {
		s.publish(s.topics.status, true, statusOffline)
		s.client.Disconnect(250)
	}
	logger.Info("[MQTT] disconnected")
}

func (s *Service) handleMessage(_ paho_mqtt.Client, msg paho_mqtt.Message) {
	logger.Debug("[MQTT] RCV: %s = %s", msg.Topic(), msg.Payload())
	if err := s.dispatch(msg.Topic(), msg.Payload()); err != nil {
		logger.Warn("[MQTT] %s: %v", msg.Topic(), err)
	}
}

// dispatch routes one inbound message
func (s *Service) dispatch(topic string, payload []byte) error {
	if s.cfg.RocrailTopic != "" && topic == s.cfg.RocrailTopic {
		return s.handleRocrail(payload)
	}

	sub, ok := s.topics.trim(topic)
	if !ok {
		return fmt.Errorf("unexpected topic")
	}

	switch {
	case sub == "status":
		// A dangling last will from an earlier session
		if topic == s.topics.status && strings.TrimSpace(string(payload)) == statusOffline {
			s.publish(s.topics.status, true, statusOnline)
		}
		return nil
	case strings.HasPrefix(sub, "command/"):
		cmd, err := parseCommand(strings.TrimPrefix(sub, "command/"), payload)
		if err != nil {
			return err
		}
		return s.apply(cmd)
	default:
		return nil
	}
}

func (s *Service) apply(cmd command) error {
	if cmd.scan {
		s.fleet.RequestScan()
		return nil
	}
	if err := s.fleet.SetChannelSpeed(cmd.channel, cmd.speed); err != nil {
		return err
	}
	logger.Info("[MQTT] channel %d speed %d", cmd.channel, cmd.speed)
	return nil
}

func (s *Service) handleRocrail(payload []byte) error {
	loco, err := parseLoco(payload)
	if errors.Is(err, errNotLoco) {
		return nil
	}
	if err != nil {
		return err
	}
	ch, ok := s.cfg.RocrailLocos[loco.ID]
	if !ok {
		ch = s.cfg.RocrailChannel
	}
	if err := s.fleet.SetChannelSpeed(ch, loco.Speed()); err != nil {
		return err
	}
	logger.Info("[MQTT] rocrail loco %s (addr %d) -> channel %d speed %d", loco.ID, *loco.Addr, ch, loco.Speed())
	return nil
}

func (s *Service) publish(topic string, retained bool, payload any) paho_mqtt.Token {
	token := s.client.Publish(topic, 0, retained, payload)
	logger.Debug("[MQTT] PUB: %s = %v", topic, payload)
	return token
}

// publishAndWait is used from the scheduler where blocking is fine
func (s *Service) publishAndWait(topic string, payload any) {
	token := s.publish(topic, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		logger.Warn("[MQTT] publish to %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		logger.Warn("[MQTT] publish to %s: %v", topic, err)
	}
}

package mqtt

import (
	"fmt"
	"strconv"
	"strings"

	"lego-hub-manager/internal/config"
	"lego-hub-manager/internal/hub"
)

type topics struct {
	node    string // <prefix>/<node>/
	group   string // <prefix>/<group>/, empty when no group is set
	status  string
	rocrail string
}

func newTopics(cfg config.MQTTConfig) topics {
	base := strings.Trim(cfg.Prefix, "/")
	join := func(name string) string {
		if base == "" {
			return name + "/"
		}
		return base + "/" + name + "/"
	}
	t := topics{
		node:    join(cfg.Node),
		rocrail: cfg.RocrailTopic,
	}
	if cfg.Group != "" {
		t.group = join(cfg.Group)
	}
	t.status = t.node + "status"
	return t
}

func (t topics) state(sub string) string {
	return t.node + "state/" + sub
}

func (t topics) subscriptions() []string {
	subs := []string{t.node + "command/#", t.status}
	if t.group != "" {
		subs = append(subs, t.group+"command/#")
	}
	if t.rocrail != "" {
		subs = append(subs, t.rocrail)
	}
	return subs
}

// trim strips the node or group prefix
func (t topics) trim(topic string) (string, bool) {
	if rest, ok := strings.CutPrefix(topic, t.node); ok {
		return rest, true
	}
	if t.group != "" {
		if rest, ok := strings.CutPrefix(topic, t.group); ok {
			return rest, true
		}
	}
	return "", false
}

type command struct {
	scan    bool
	channel int
	speed   int
}

// parseCommand reads the part of a command topic after "command/":
// "scan", "speed/<channel>" or a channel color name.
func parseCommand(sub string, payload []byte) (command, error) {
	if sub == "scan" {
		return command{scan: true}, nil
	}

	var channel int
	if rest, ok := strings.CutPrefix(sub, "speed/"); ok {
		ch, err := strconv.Atoi(rest)
		if err != nil {
			return command{}, fmt.Errorf("invalid channel %q", rest)
		}
		channel = ch
	} else {
		ch, ok := hub.ChannelByColorName(sub)
		if !ok {
			return command{}, fmt.Errorf("unknown command %q", sub)
		}
		channel = ch
	}

	speed, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return command{}, fmt.Errorf("invalid speed %q", payload)
	}
	return command{channel: channel, speed: speed}, nil
}

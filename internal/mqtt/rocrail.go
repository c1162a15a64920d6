package mqtt

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
)

var errNotLoco = errors.New("not a loco message")

// locoMessage is a Rocrail <lc> command
type locoMessage struct {
	XMLName xml.Name `xml:"lc"`
	ID      string   `xml:"id,attr"`
	Addr    *int     `xml:"addr,attr"`
	Dir     string   `xml:"dir,attr"`
	V       *int     `xml:"V,attr"`
	VMax    *int     `xml:"V_max,attr"`
}

// Speed is V signed by the direction
func (m locoMessage) Speed() int {
	if m.Dir == "false" {
		return -*m.V
	}
	return *m.V
}

func parseLoco(payload []byte) (locoMessage, error) {
	root, err := rootElement(payload)
	if err != nil {
		return locoMessage{}, err
	}
	if root != "lc" {
		return locoMessage{}, errNotLoco
	}

	var m locoMessage
	if err := xml.Unmarshal(payload, &m); err != nil {
		return locoMessage{}, fmt.Errorf("parse lc: %w", err)
	}
	switch {
	case m.ID == "":
		return m, errors.New("lc: missing id")
	case m.Addr == nil:
		return m, errors.New("lc: missing addr")
	case m.Dir != "true" && m.Dir != "false":
		return m, fmt.Errorf("lc: unknown dir %q", m.Dir)
	case m.V == nil:
		return m, errors.New("lc: missing V")
	case m.VMax == nil:
		return m, errors.New("lc: missing V_max")
	}
	return m, nil
}

// rootElement returns the name of the first element in payload
func rootElement(payload []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

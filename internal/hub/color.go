package hub

import "strings"

// Color is an indicator LED color as numbered by the hub firmware
type Color uint8

const (
	ColorBlack     Color = 0
	ColorPink      Color = 1
	ColorPurple    Color = 2
	ColorBlue      Color = 3
	ColorLightBlue Color = 4
	ColorCyan      Color = 5
	ColorGreen     Color = 6
	ColorYellow    Color = 7
	ColorOrange    Color = 8
	ColorRed       Color = 9
	ColorWhite     Color = 10
)

var colorNames = map[Color]string{
	ColorBlack:     "black",
	ColorPink:      "pink",
	ColorPurple:    "purple",
	ColorBlue:      "blue",
	ColorLightBlue: "lightblue",
	ColorCyan:      "cyan",
	ColorGreen:     "green",
	ColorYellow:    "yellow",
	ColorOrange:    "orange",
	ColorRed:       "red",
	ColorWhite:     "white",
}

func (c Color) String() string {
	if name, ok := colorNames[c]; ok {
		return name
	}
	return "unknown"
}

// Palette maps channel numbers to their indicator color
var Palette = []Color{
	ColorGreen,
	ColorBlue,
	ColorRed,
	ColorPurple,
	ColorYellow,
	ColorCyan,
	ColorPink,
	ColorWhite,
	ColorOrange,
}

// ChannelColor returns the palette color of a channel, black when out of range
func ChannelColor(channel int) Color {
	if channel < 0 || channel >= len(Palette) {
		return ColorBlack
	}
	return Palette[channel]
}

// ChannelByColorName returns the channel whose palette color is called name
func ChannelByColorName(name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, c := range Palette {
		if c.String() == name {
			return i, true
		}
	}
	return 0, false
}

package noise

import (
	"fmt"
	"strings"
)

// Channel identifies one of the masking textures that can be mixed.
type Channel int

const (
	White Channel = iota
	Pink
	Brown
	Wind
	Ocean
	Waterfall

	NumChannels = int(Waterfall) + 1
)

// Channels lists every channel in mixing order.
var Channels = []Channel{White, Pink, Brown, Wind, Ocean, Waterfall}

var channelNames = [...]string{"white", "pink", "brown", "wind", "ocean", "waterfall"}

func (c Channel) String() string {
	if c < 0 || int(c) >= len(channelNames) {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// Valid reports whether c is one of the defined channels.
func (c Channel) Valid() bool {
	return c >= White && c <= Waterfall
}

// Beta returns the power-law exponent for the colored-noise channels.
// ok is false for the derived textures.
func (c Channel) Beta() (beta float64, ok bool) {
	switch c {
	case White:
		return 0, true
	case Pink:
		return 1, true
	case Brown:
		return 2, true
	}
	return 0, false
}

// ParseChannel converts a channel name (case-insensitive) to a Channel.
func ParseChannel(s string) (Channel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range channelNames {
		if n == name {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown noise channel %q", s)
}

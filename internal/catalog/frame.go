package catalog

import (
	"time"

	"github.com/danmuck/protoscope/internal/amf"
)

// Direction marks which side of the capture emitted a frame.
type Direction uint8

const (
	DirectionSent Direction = iota
	DirectionReceived
)

func (d Direction) String() string {
	switch d {
	case DirectionSent:
		return "sent"
	case DirectionReceived:
		return "received"
	default:
		return "unknown"
	}
}

// DirectionSet records every direction an action has been seen on.
type DirectionSet uint8

func (s DirectionSet) Has(d Direction) bool { return s&(1<<d) != 0 }

func (s DirectionSet) Add(d Direction) DirectionSet { return s | (1 << d) }

func (s DirectionSet) Strings() []string {
	var out []string
	if s.Has(DirectionSent) {
		out = append(out, DirectionSent.String())
	}
	if s.Has(DirectionReceived) {
		out = append(out, DirectionReceived.String())
	}
	return out
}

// Frame is one captured directional unit of raw protocol bytes.
// Values and Action are populated by the analyzer after decode.
type Frame struct {
	Raw       []byte
	Direction Direction
	Timestamp time.Time

	Values []amf.Value
	Action string
}

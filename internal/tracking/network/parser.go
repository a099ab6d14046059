// Package network receives tracker positions over UDP. Datagrams carry OSC
// messages whose address pattern identifies the source and whose four float32
// arguments are (x, y, width, height).
package network

import (
	"errors"
	"fmt"

	"github.com/hypebeast/go-osc/osc"

	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

// PositionArgumentCount is the number of float32 arguments in a position
// message.
const PositionArgumentCount = 4

var (
	ErrAddressMismatch = errors.New("address pattern does not match subscription")
	ErrArgumentCount   = errors.New("wrong number of arguments")
	ErrArgumentType    = errors.New("argument is not a float32")
	ErrMalformed       = errors.New("malformed OSC packet")
	ErrNotMessage      = errors.New("packet is neither an OSC message nor a bundle")
)

// ParseMessage validates an OSC message against the subscription address
// and extracts the position. Address comparison is exact.
func ParseMessage(msg *osc.Message, address string) (tracking.Position, error) {
	if msg.Address != address {
		return tracking.Position{}, ErrAddressMismatch
	}
	if len(msg.Arguments) != PositionArgumentCount {
		return tracking.Position{}, fmt.Errorf("%w: expected %d, got %d", ErrArgumentCount, PositionArgumentCount, len(msg.Arguments))
	}
	var v [PositionArgumentCount]float32
	for i, arg := range msg.Arguments {
		f, ok := arg.(float32)
		if !ok {
			return tracking.Position{}, fmt.Errorf("%w: argument %d has type %T", ErrArgumentType, i, arg)
		}
		v[i] = f
	}
	return tracking.Position{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// ParseDatagram decodes one UDP payload. A bundle yields every matching
// message it contains. The returned error joins the failures of individual
// messages; positions that parsed are returned alongside it. A decoder panic
// on hostile input is reported as ErrMalformed.
func ParseDatagram(data []byte, address string) (_ []tracking.Position, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformed)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: decoder panic: %v", ErrMalformed, r)
		}
	}()
	packet, err := osc.ParsePacket(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		positions []tracking.Position
		errs      []error
	)
	var walk func(p osc.Packet)
	walk = func(p osc.Packet) {
		switch pkt := p.(type) {
		case *osc.Message:
			pos, err := ParseMessage(pkt, address)
			if err != nil {
				errs = append(errs, err)
				return
			}
			positions = append(positions, pos)
		case *osc.Bundle:
			for _, m := range pkt.Messages {
				walk(m)
			}
			for _, b := range pkt.Bundles {
				walk(b)
			}
		default:
			errs = append(errs, fmt.Errorf("%w: %T", ErrNotMessage, p))
		}
	}
	walk(packet)
	return positions, errors.Join(errs...)
}

// IsProtocolError reports whether err describes a malformed datagram as
// opposed to an expected address mismatch.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrArgumentCount) || errors.Is(err, ErrArgumentType) ||
		errors.Is(err, ErrMalformed) || errors.Is(err, ErrNotMessage)
}

// EncodePosition builds the OSC datagram a tracker sends for pos.
func EncodePosition(address string, pos tracking.Position) ([]byte, error) {
	msg := osc.NewMessage(address)
	msg.Append(pos.X)
	msg.Append(pos.Y)
	msg.Append(pos.Width)
	msg.Append(pos.Height)
	return msg.MarshalBinary()
}

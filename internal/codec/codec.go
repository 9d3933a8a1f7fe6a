// Package codec decodes and encodes OSC datagrams.
//
// Only single OSC messages are accepted. Bundles decode to ErrUnsupported and
// are dropped by the listener like any other undecodable datagram.
package codec

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"
)

var (
	// ErrMalformed is returned for datagrams that are not valid OSC.
	ErrMalformed = errors.New("malformed OSC packet")
	// ErrUnsupported is returned for valid OSC packets that are not plain messages.
	ErrUnsupported = errors.New("unsupported OSC packet")
)

// Packet is a decoded OSC message.
type Packet struct {
	Address string
	Args    []any
}

// Decode parses a single datagram.
func Decode(data []byte) (p Packet, err error) {
	if len(data) == 0 {
		return Packet{}, fmt.Errorf("%w: empty datagram", ErrMalformed)
	}

	// The OSC parser indexes into attacker-controlled bytes; a panic there is
	// just another malformed datagram.
	defer func() {
		if r := recover(); r != nil {
			p = Packet{}
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	pkt, perr := osc.ParsePacket(string(data))
	if perr != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, perr)
	}

	msg, ok := pkt.(*osc.Message)
	if !ok {
		return Packet{}, fmt.Errorf("%w: %T", ErrUnsupported, pkt)
	}
	if !strings.HasPrefix(msg.Address, "/") {
		return Packet{}, fmt.Errorf("%w: address %q", ErrMalformed, msg.Address)
	}

	args := make([]any, len(msg.Arguments))
	copy(args, msg.Arguments)
	return Packet{Address: msg.Address, Args: args}, nil
}

// Encode builds the wire form of a single OSC message.
func Encode(address string, args ...any) ([]byte, error) {
	return osc.NewMessage(address, args...).MarshalBinary()
}

// Numeric converts an OSC argument to float64.
// Booleans count as 0 and 1; strings, blobs and nil are not numeric.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// ParseArg turns a command-line token into a typed OSC argument:
// integers become int32, decimals float32, true/false bool, anything else a string.
func ParseArg(s string) any {
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int32(i)
	}
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return float32(f)
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// Send delivers one message to addr (host:port).
func Send(addr, address string, args ...any) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("parse target address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("parse target port: %w", err)
	}

	client := osc.NewClient(host, port)
	if err := client.Send(osc.NewMessage(address, args...)); err != nil {
		return fmt.Errorf("send OSC message: %w", err)
	}
	return nil
}

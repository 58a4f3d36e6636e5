package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Scheme selects the transport of an endpoint
type Scheme string

const (
	SchemeUDPIn     Scheme = "udpin"
	SchemeUDPOut    Scheme = "udpout"
	SchemeUDPBcast  Scheme = "udpbcast"
	SchemeTCPIn     Scheme = "tcpin"
	SchemeTCPOut    Scheme = "tcpout"
	SchemeSerial    Scheme = "serial"
	SchemeWSIn      Scheme = "wsin"
	SchemeWSOut     Scheme = "wsout"
	SchemeQUICIn    Scheme = "quicin"
	SchemeQUICOut   Scheme = "quicout"
	SchemeHybridIn  Scheme = "hcin"
	SchemeHybridOut Scheme = "hcout"
	SchemeFile      Scheme = "file"
)

type schemeKind int

const (
	kindNetwork schemeKind = iota
	kindSerial
	kindHybrid
	kindFile
)

var schemes = map[Scheme]schemeKind{
	SchemeUDPIn:     kindNetwork,
	SchemeUDPOut:    kindNetwork,
	SchemeUDPBcast:  kindNetwork,
	SchemeTCPIn:     kindNetwork,
	SchemeTCPOut:    kindNetwork,
	SchemeWSIn:      kindNetwork,
	SchemeWSOut:     kindNetwork,
	SchemeQUICIn:    kindNetwork,
	SchemeQUICOut:   kindNetwork,
	SchemeSerial:    kindSerial,
	SchemeHybridIn:  kindHybrid,
	SchemeHybridOut: kindHybrid,
	SchemeFile:      kindFile,
}

// ErrInvalidAddress wraps every address parse failure
var ErrInvalidAddress = errors.New("invalid endpoint address")

// Address is a parsed connection string of the form
// scheme:target:port_or_baud. For hc* schemes the target is the relay
// namespace and the last field the hybrid connection name; file takes a
// path only.
type Address struct {
	Raw    string
	Scheme Scheme
	Target string
	Param  string
}

// ParseAddress parses a connection string
func ParseAddress(s string) (Address, error) {
	raw := strings.TrimSpace(s)
	name, rest, ok := strings.Cut(raw, ":")
	if !ok || name == "" {
		return Address{}, fmt.Errorf("%w %q: missing scheme", ErrInvalidAddress, s)
	}

	scheme := Scheme(strings.ToLower(name))
	kind, known := schemes[scheme]
	if !known {
		return Address{}, fmt.Errorf("%w %q: unknown scheme %q", ErrInvalidAddress, s, name)
	}

	if kind == kindFile {
		if rest == "" {
			return Address{}, fmt.Errorf("%w %q: missing path", ErrInvalidAddress, s)
		}
		return Address{Raw: raw, Scheme: scheme, Target: rest}, nil
	}

	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return Address{}, fmt.Errorf("%w %q: expected %s:<target>:<port_or_baud>", ErrInvalidAddress, s, scheme)
	}
	addr := Address{Raw: raw, Scheme: scheme, Target: rest[:i], Param: rest[i+1:]}
	if addr.Param == "" {
		return Address{}, fmt.Errorf("%w %q: missing port or baud rate", ErrInvalidAddress, s)
	}

	switch kind {
	case kindNetwork:
		addr.Target = strings.TrimSuffix(strings.TrimPrefix(addr.Target, "["), "]")
		port, err := strconv.Atoi(addr.Param)
		if err != nil || port < 0 || port > 65535 {
			return Address{}, fmt.Errorf("%w %q: bad port %q", ErrInvalidAddress, s, addr.Param)
		}
		if addr.Target == "" && !addr.listens() {
			return Address{}, fmt.Errorf("%w %q: missing host", ErrInvalidAddress, s)
		}
	case kindSerial:
		baud, err := strconv.Atoi(addr.Param)
		if err != nil || baud <= 0 {
			return Address{}, fmt.Errorf("%w %q: bad baud rate %q", ErrInvalidAddress, s, addr.Param)
		}
		if addr.Target == "" {
			return Address{}, fmt.Errorf("%w %q: missing device", ErrInvalidAddress, s)
		}
	case kindHybrid:
		if addr.Target == "" {
			return Address{}, fmt.Errorf("%w %q: missing relay namespace", ErrInvalidAddress, s)
		}
	}

	return addr, nil
}

// String returns the original connection string
func (a Address) String() string {
	return a.Raw
}

// HostPort joins target and port for network schemes
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Target, a.Param)
}

// Baud returns the baud rate of a serial address
func (a Address) Baud() int {
	baud, _ := strconv.Atoi(a.Param)
	return baud
}

// listens reports whether the endpoint waits for its peer to connect
func (a Address) listens() bool {
	switch a.Scheme {
	case SchemeUDPIn, SchemeTCPIn, SchemeWSIn, SchemeQUICIn, SchemeHybridIn:
		return true
	}
	return false
}

// Dials reports whether the endpoint initiates its own connection and can
// therefore reconnect
func (a Address) Dials() bool {
	switch a.Scheme {
	case SchemeTCPOut, SchemeWSOut, SchemeQUICOut, SchemeHybridOut, SchemeSerial:
		return true
	}
	return false
}

// Hybrid reports whether the endpoint goes through Azure Relay
func (a Address) Hybrid() bool {
	return schemes[a.Scheme] == kindHybrid
}

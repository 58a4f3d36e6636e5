package mavlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Version is a MAVLink wire protocol version
type Version uint8

const (
	// AnyVersion accepts both v1 and v2 frames
	AnyVersion Version = 0
	// V1 is MAVLink 1.0 framing (start byte 0xFE)
	V1 Version = 1
	// V2 is MAVLink 2.0 framing (start byte 0xFD)
	V2 Version = 2
)

const (
	stxV1 = 0xFE
	stxV2 = 0xFD

	headerLenV1 = 6
	headerLenV2 = 10
	checksumLen = 2
	// SignatureLen is the size of a MAVLink 2 signature block
	SignatureLen = 13

	// FlagSigned marks a v2 frame that carries a signature block
	FlagSigned = 0x01

	knownIncompatFlags = FlagSigned

	// MaxFrameLen is the largest frame either version can produce
	MaxFrameLen = headerLenV2 + 255 + checksumLen + SignatureLen
)

var (
	// ErrUnknownVersion is returned by ParseVersion for unrecognized input
	ErrUnknownVersion = errors.New("unknown mavlink version")
)

// ParseVersion accepts "1", "v1", "2", "v2", "any" and the empty string (any)
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "v1", "mavlink1":
		return V1, nil
	case "2", "v2", "mavlink2":
		return V2, nil
	case "", "any", "auto":
		return AnyVersion, nil
	default:
		return AnyVersion, fmt.Errorf("%w: %q", ErrUnknownVersion, s)
	}
}

// String returns the version name
func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	case AnyVersion:
		return "any"
	default:
		return fmt.Sprintf("Version(%d)", uint8(v))
	}
}

// accepts reports whether a reader configured for v takes frames of version frame
func (v Version) accepts(frame Version) bool {
	return v == AnyVersion || v == frame
}

// Header is the routing-relevant part of a frame. It is forwarded unchanged.
type Header struct {
	Version       Version
	IncompatFlags uint8
	CompatFlags   uint8
	Sequence      uint8
	SystemID      uint8
	ComponentID   uint8
	MessageID     uint32
}

// Frame is one complete MAVLink packet. Payload, Checksum and Signature
// are opaque to the relay and written back byte for byte.
type Frame struct {
	Header
	Payload   []byte
	Checksum  uint16
	Signature []byte
}

// Signed reports whether the frame carries a signature block
func (f Frame) Signed() bool {
	return f.Version == V2 && f.IncompatFlags&FlagSigned != 0
}

// Len returns the encoded size of the frame
func (f Frame) Len() int {
	n := headerLenV1
	if f.Version == V2 {
		n = headerLenV2
	}
	return n + len(f.Payload) + checksumLen + len(f.Signature)
}

// AppendBinary appends the wire encoding of f to b
func (f Frame) AppendBinary(b []byte) []byte {
	if f.Version == V2 {
		b = append(b,
			stxV2,
			uint8(len(f.Payload)),
			f.IncompatFlags,
			f.CompatFlags,
			f.Sequence,
			f.SystemID,
			f.ComponentID,
			uint8(f.MessageID),
			uint8(f.MessageID>>8),
			uint8(f.MessageID>>16),
		)
	} else {
		b = append(b,
			stxV1,
			uint8(len(f.Payload)),
			f.Sequence,
			f.SystemID,
			f.ComponentID,
			uint8(f.MessageID),
		)
	}
	b = append(b, f.Payload...)
	b = binary.LittleEndian.AppendUint16(b, f.Checksum)
	return append(b, f.Signature...)
}

// Seal sets the checksum from the header, the payload and the message's
// CRC extra byte
func (f *Frame) Seal(crcExtra uint8) {
	b := f.AppendBinary(nil)
	end := headerLen(f.Version) + len(f.Payload)
	f.Checksum = Checksum(b[1:end], crcExtra)
}

// MarshalBinary returns the wire encoding of f
func (f Frame) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, f.Len())), nil
}

// String renders the header for log lines
func (f Frame) String() string {
	return fmt.Sprintf("%s seq=%d sys=%d comp=%d msg=%d len=%d",
		f.Version, f.Sequence, f.SystemID, f.ComponentID, f.MessageID, len(f.Payload))
}

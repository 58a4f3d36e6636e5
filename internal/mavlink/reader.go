package mavlink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

const readBufferSize = 64 * 1024

var errCorrupt = errors.New("corrupt frame")

// Reader extracts frames from a byte stream. A candidate that fails its
// checksum or carries unknown incompatibility flags costs only its start
// byte, so line noise never swallows the frames behind it. A read error
// leaves any partially received frame buffered and the next Read resumes
// it, which makes Reader safe to use with read deadlines.
//
// Message ids missing from the CRC table cannot be checked. Such a frame
// is taken when it ends where the buffered data ends or where another
// start byte begins, and no verifiable frame starts inside it.
type Reader struct {
	br       *bufio.Reader
	version  Version
	crcExtra CRCExtraFunc
	skipped  uint64
	rejected uint64
}

// NewReader returns a Reader accepting frames of version v (AnyVersion for
// both) and verifying them against the common dialect
func NewReader(r io.Reader, v Version) *Reader {
	return &Reader{
		br:       bufio.NewReaderSize(r, readBufferSize),
		version:  v,
		crcExtra: CommonCRCExtra,
	}
}

// SetCRCExtra replaces the dialect lookup used to verify checksums
func (r *Reader) SetCRCExtra(fn CRCExtraFunc) {
	if fn == nil {
		fn = func(uint32) (uint8, bool) { return 0, false }
	}
	r.crcExtra = fn
}

// Skipped returns the number of bytes discarded while hunting for a frame
func (r *Reader) Skipped() uint64 {
	return r.skipped
}

// Rejected returns the number of candidate frames dropped as corrupt
func (r *Reader) Rejected() uint64 {
	return r.rejected
}

// Read returns the next frame
func (r *Reader) Read() (Frame, error) {
	for {
		stx, err := r.br.Peek(1)
		if err != nil {
			return Frame{}, err
		}

		v := startVersion(stx[0])
		if v == AnyVersion || !r.version.accepts(v) {
			r.discard()
			continue
		}

		f, n, err := r.candidate(v)
		switch {
		case err == nil:
			_, _ = r.br.Discard(n)
			return f, nil
		case errors.Is(err, errCorrupt):
			r.reject()
			continue
		}

		// Incomplete candidate: drop it once the stream has ended or a
		// verified frame is already waiting inside the buffered bytes.
		if r.br.Buffered() > 0 && (errors.Is(err, io.EOF) || r.verifiedWithin(r.br.Buffered())) {
			r.reject()
			continue
		}
		return Frame{}, err
	}
}

// candidate decodes the frame at the head of the buffer without consuming it
func (r *Reader) candidate(v Version) (Frame, int, error) {
	hl := headerLen(v)
	head, err := r.br.Peek(hl)
	if err != nil {
		return Frame{}, 0, err
	}
	h, total, ok := parseHeader(v, head)
	if !ok {
		return Frame{}, 0, errCorrupt
	}

	raw, err := r.br.Peek(total)
	if err != nil {
		return Frame{}, 0, err
	}

	if valid, known := r.verify(raw, h); known {
		if !valid {
			return Frame{}, 0, errCorrupt
		}
	} else if !r.plausible(total) {
		return Frame{}, 0, errCorrupt
	}

	end := checksumOffset(raw, h)
	f := Frame{Header: h}
	f.Payload = append([]byte(nil), raw[hl:end]...)
	f.Checksum = binary.LittleEndian.Uint16(raw[end:])
	if h.IncompatFlags&FlagSigned != 0 {
		f.Signature = append([]byte(nil), raw[end+checksumLen:total]...)
	}
	return f, total, nil
}

// verify reports whether the checksum of raw matches, and whether the
// message id was known so it could be checked at all
func (r *Reader) verify(raw []byte, h Header) (valid, known bool) {
	extra, ok := r.crcExtra(h.MessageID)
	if !ok {
		return false, false
	}
	end := checksumOffset(raw, h)
	return Checksum(raw[1:end], extra) == binary.LittleEndian.Uint16(raw[end:]), true
}

// plausible judges an unverifiable candidate of total bytes using only
// what is already buffered
func (r *Reader) plausible(total int) bool {
	if r.verifiedWithin(total) {
		return false
	}
	if r.br.Buffered() == total {
		return true
	}
	next, _ := r.br.Peek(total + 1)
	return startVersion(next[total]) != AnyVersion
}

// verifiedWithin reports whether a checksum-verified frame starts at an
// offset in [1, limit) of the buffered bytes
func (r *Reader) verifiedWithin(limit int) bool {
	buf, _ := r.br.Peek(r.br.Buffered())
	limit = min(limit, len(buf))
	for i := 1; i < limit; i++ {
		if r.verifiedAt(buf[i:]) {
			return true
		}
	}
	return false
}

// verifiedAt reports whether buf begins with a complete frame of an
// accepted version whose checksum is known and matches
func (r *Reader) verifiedAt(buf []byte) bool {
	v := startVersion(buf[0])
	if v == AnyVersion || !r.version.accepts(v) || len(buf) < headerLen(v) {
		return false
	}
	h, total, ok := parseHeader(v, buf)
	if !ok || len(buf) < total {
		return false
	}
	valid, known := r.verify(buf[:total], h)
	return known && valid
}

// parseHeader decodes the header at the start of buf and returns the full
// frame size. It fails for incompatibility flags that leave the size unknown.
func parseHeader(v Version, buf []byte) (Header, int, bool) {
	payloadLen := int(buf[1])
	h := Header{Version: v}
	if v == V1 {
		h.Sequence = buf[2]
		h.SystemID = buf[3]
		h.ComponentID = buf[4]
		h.MessageID = uint32(buf[5])
		return h, headerLenV1 + payloadLen + checksumLen, true
	}

	h.IncompatFlags = buf[2]
	h.CompatFlags = buf[3]
	h.Sequence = buf[4]
	h.SystemID = buf[5]
	h.ComponentID = buf[6]
	h.MessageID = uint32(buf[7]) | uint32(buf[8])<<8 | uint32(buf[9])<<16
	if h.IncompatFlags&^knownIncompatFlags != 0 {
		return h, 0, false
	}
	total := headerLenV2 + payloadLen + checksumLen
	if h.IncompatFlags&FlagSigned != 0 {
		total += SignatureLen
	}
	return h, total, true
}

func headerLen(v Version) int {
	if v == V2 {
		return headerLenV2
	}
	return headerLenV1
}

// checksumOffset returns where the checksum starts in a complete frame
func checksumOffset(raw []byte, h Header) int {
	end := len(raw) - checksumLen
	if h.IncompatFlags&FlagSigned != 0 {
		end -= SignatureLen
	}
	return end
}

func startVersion(b byte) Version {
	switch b {
	case stxV1:
		return V1
	case stxV2:
		return V2
	}
	return AnyVersion
}

func (r *Reader) discard() {
	d, _ := r.br.Discard(1)
	r.skipped += uint64(d)
}

func (r *Reader) reject() {
	r.rejected++
	r.discard()
}

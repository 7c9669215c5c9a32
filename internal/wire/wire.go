// Package wire implements the protocol's framing and binary
// serialization: an 8-byte length-prefixed envelope around a
// self-describing tagged message union.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/rawblock/organ-relay/internal/organerr"
)

// Tag discriminates the message union on the wire.
type Tag byte

const (
	TagClientBase Tag = iota
	TagServerBase
	TagClientBulk
	TagServerBulk
	TagClientPrifi
	TagOk
)

// ClientBaseMessage is a client's base-round submission, optionally
// carrying the blame protocol's opening values.
type ClientBaseMessage struct {
	Round         uint64
	NID           uint64
	SlotMessages  []*big.Int
	Blame         []*big.Int // nil when do_blame is unset
	BlameBlinding []*big.Int
	E             [][]byte // curve-encoded commitments, nil when do_blame is unset
}

// ServerBaseMessage carries the recovered permutation.
type ServerBaseMessage struct {
	Round uint64
	Perm  []*big.Int
}

// ClientBulkMessage is a client's bulk-round payload submission.
type ClientBulkMessage struct {
	Round        uint64
	NID          uint64
	SlotMessages []*big.Int
}

// ServerBulkMessage is a unit acknowledgement of a completed bulk round.
type ServerBulkMessage struct{}

// ClientPrifiMessage is the PriFi timing-harness client message; it
// shares the wire envelope but is not consumed by the core protocol.
type ClientPrifiMessage struct {
	Round        uint64
	NID          uint64
	SlotMessages []*big.Int
	Cipher       *big.Int
	Keys         [][2]*big.Int
}

// Message is the tagged union transmitted on the wire. Setup files use
// their own SetupTag-discriminated format (see setup.go).
type Message struct {
	Tag         Tag
	ClientBase  *ClientBaseMessage
	ServerBase  *ServerBaseMessage
	ClientBulk  *ClientBulkMessage
	ServerBulk  *ServerBulkMessage
	ClientPrifi *ClientPrifiMessage
}

// ReadFrame reads one length-prefixed message from r: an 8-byte
// little-endian length L followed by L bytes of payload. The byte order
// is fixed rather than host-native so peers on different architectures
// interoperate.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: reading length prefix: %w", err)
	}
	length := binary.LittleEndian.Uint64(lenBuf[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading payload: %w: %w", err, organerr.ErrFraming)
	}
	return payload, nil
}

// WriteFrame writes payload behind its 8-byte little-endian length
// prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: writing length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: writing payload: %w", err)
	}
	return nil
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func getUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// putBigInt encodes an arbitrary-precision integer as a sign byte
// followed by a length-prefixed little-endian magnitude.
func putBigInt(buf *bytes.Buffer, x *big.Int) {
	sign := byte(0)
	abs := x
	if x.Sign() < 0 {
		sign = 1
		abs = new(big.Int).Neg(x)
	}
	buf.WriteByte(sign)
	be := abs.Bytes()
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	putUint64(buf, uint64(len(le)))
	buf.Write(le)
}

func getBigInt(r *bytes.Reader) (*big.Int, error) {
	sign, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("wire: reading integer sign byte: %w", err)
	}
	n, err := getUint64(r)
	if err != nil {
		return nil, fmt.Errorf("wire: reading integer length: %w", err)
	}
	le := make([]byte, n)
	if _, err := io.ReadFull(r, le); err != nil {
		return nil, fmt.Errorf("wire: reading integer magnitude: %w", err)
	}
	be := make([]byte, n)
	for i, b := range le {
		be[n-1-uint64(i)] = b
	}
	x := new(big.Int).SetBytes(be)
	if sign == 1 {
		x.Neg(x)
	}
	return x, nil
}

func putBigIntSlice(buf *bytes.Buffer, xs []*big.Int) {
	putUint64(buf, uint64(len(xs)))
	for _, x := range xs {
		putBigInt(buf, x)
	}
}

func getBigIntSlice(r *bytes.Reader) ([]*big.Int, error) {
	n, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	xs := make([]*big.Int, n)
	for i := range xs {
		x, err := getBigInt(r)
		if err != nil {
			return nil, err
		}
		xs[i] = x
	}
	return xs, nil
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUint64(buf, uint64(len(b)))
	buf.Write(b)
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	n, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func putPresence(buf *bytes.Buffer, present bool) {
	if present {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func getPresence(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b == 1, nil
}

// Marshal serializes a Message into its tagged binary form (without the
// length-prefix framing, which WriteFrame adds separately).
func Marshal(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Tag))
	switch m.Tag {
	case TagClientBase:
		cb := m.ClientBase
		putUint64(&buf, cb.Round)
		putUint64(&buf, cb.NID)
		putBigIntSlice(&buf, cb.SlotMessages)
		putPresence(&buf, cb.Blame != nil)
		if cb.Blame != nil {
			putBigIntSlice(&buf, cb.Blame)
			putBigIntSlice(&buf, cb.BlameBlinding)
			putUint64(&buf, uint64(len(cb.E)))
			for _, e := range cb.E {
				putBytes(&buf, e)
			}
		}
	case TagServerBase:
		sb := m.ServerBase
		putUint64(&buf, sb.Round)
		putBigIntSlice(&buf, sb.Perm)
	case TagClientBulk:
		cb := m.ClientBulk
		putUint64(&buf, cb.Round)
		putUint64(&buf, cb.NID)
		putBigIntSlice(&buf, cb.SlotMessages)
	case TagServerBulk:
		// unit message, no payload
	case TagClientPrifi:
		cp := m.ClientPrifi
		putUint64(&buf, cp.Round)
		putUint64(&buf, cp.NID)
		putBigIntSlice(&buf, cp.SlotMessages)
		putBigInt(&buf, cp.Cipher)
		putUint64(&buf, uint64(len(cp.Keys)))
		for _, kv := range cp.Keys {
			putBigInt(&buf, kv[0])
			putBigInt(&buf, kv[1])
		}
	case TagOk:
		// unit message, no payload
	default:
		return nil, fmt.Errorf("wire: unknown message tag %d: %w", m.Tag, organerr.ErrFraming)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a Message from its tagged binary form.
func Unmarshal(data []byte) (*Message, error) {
	r := bytes.NewReader(data)
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("wire: reading tag: %w: %w", err, organerr.ErrFraming)
	}
	tag := Tag(tagByte)
	m := &Message{Tag: tag}
	switch tag {
	case TagClientBase:
		cb := &ClientBaseMessage{}
		if cb.Round, err = getUint64(r); err != nil {
			return nil, err
		}
		if cb.NID, err = getUint64(r); err != nil {
			return nil, err
		}
		if cb.SlotMessages, err = getBigIntSlice(r); err != nil {
			return nil, err
		}
		present, err := getPresence(r)
		if err != nil {
			return nil, err
		}
		if present {
			if cb.Blame, err = getBigIntSlice(r); err != nil {
				return nil, err
			}
			if cb.BlameBlinding, err = getBigIntSlice(r); err != nil {
				return nil, err
			}
			n, err := getUint64(r)
			if err != nil {
				return nil, err
			}
			cb.E = make([][]byte, n)
			for i := range cb.E {
				if cb.E[i], err = getBytes(r); err != nil {
					return nil, err
				}
			}
		}
		m.ClientBase = cb
	case TagServerBase:
		sb := &ServerBaseMessage{}
		if sb.Round, err = getUint64(r); err != nil {
			return nil, err
		}
		if sb.Perm, err = getBigIntSlice(r); err != nil {
			return nil, err
		}
		m.ServerBase = sb
	case TagClientBulk:
		cb := &ClientBulkMessage{}
		if cb.Round, err = getUint64(r); err != nil {
			return nil, err
		}
		if cb.NID, err = getUint64(r); err != nil {
			return nil, err
		}
		if cb.SlotMessages, err = getBigIntSlice(r); err != nil {
			return nil, err
		}
		m.ClientBulk = cb
	case TagServerBulk:
		m.ServerBulk = &ServerBulkMessage{}
	case TagClientPrifi:
		cp := &ClientPrifiMessage{}
		if cp.Round, err = getUint64(r); err != nil {
			return nil, err
		}
		if cp.NID, err = getUint64(r); err != nil {
			return nil, err
		}
		if cp.SlotMessages, err = getBigIntSlice(r); err != nil {
			return nil, err
		}
		if cp.Cipher, err = getBigInt(r); err != nil {
			return nil, err
		}
		n, err := getUint64(r)
		if err != nil {
			return nil, err
		}
		cp.Keys = make([][2]*big.Int, n)
		for i := range cp.Keys {
			a, err := getBigInt(r)
			if err != nil {
				return nil, err
			}
			b, err := getBigInt(r)
			if err != nil {
				return nil, err
			}
			cp.Keys[i] = [2]*big.Int{a, b}
		}
		m.ClientPrifi = cp
	case TagOk:
	default:
		return nil, fmt.Errorf("wire: unknown message tag %d: %w", tag, organerr.ErrFraming)
	}
	return m, nil
}

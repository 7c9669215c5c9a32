package wire

import (
	"bytes"
	"fmt"

	"github.com/rawblock/organ-relay/internal/curve"
	"github.com/rawblock/organ-relay/internal/setup"
)

// SetupTag discriminates the persisted-setup-file union: a file holds
// either a client's SetupValues or the relay's SetupRelay, tagged so a
// reader can tell which without out-of-band knowledge.
type SetupTag byte

const (
	SetupTagValues SetupTag = iota
	SetupTagRelay
)

func putVector(buf *bytes.Buffer, v *setup.Vector) {
	putBigIntSlice(buf, v.Value)
	putBigIntSlice(buf, v.ValueNTT)
	putBigIntSlice(buf, v.ProductNTT)
	putBigIntSlice(buf, v.Product)
	putBigIntSlice(buf, v.Scaled)
	putBigIntSlice(buf, v.E)
}

func getVector(r *bytes.Reader) (*setup.Vector, error) {
	v := &setup.Vector{}
	var err error
	if v.Value, err = getBigIntSlice(r); err != nil {
		return nil, err
	}
	if v.ValueNTT, err = getBigIntSlice(r); err != nil {
		return nil, err
	}
	if v.ProductNTT, err = getBigIntSlice(r); err != nil {
		return nil, err
	}
	if v.Product, err = getBigIntSlice(r); err != nil {
		return nil, err
	}
	if v.Scaled, err = getBigIntSlice(r); err != nil {
		return nil, err
	}
	if v.E, err = getBigIntSlice(r); err != nil {
		return nil, err
	}
	return v, nil
}

func putPoints(buf *bytes.Buffer, c curve.Curve, points []curve.Point) {
	putUint64(buf, uint64(len(points)))
	for _, p := range points {
		putBytes(buf, c.Marshal(p))
	}
}

func getPoints(r *bytes.Reader, c curve.Curve) ([]curve.Point, error) {
	n, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	points := make([]curve.Point, n)
	for i := range points {
		b, err := getBytes(r)
		if err != nil {
			return nil, err
		}
		p, err := c.Unmarshal(b)
		if err != nil {
			return nil, fmt.Errorf("wire: decoding point %d: %w", i, err)
		}
		points[i] = p
	}
	return points, nil
}

// MarshalSetupValues serializes a client's (or the relay's) Values into
// the persisted-setup-file format: share, blinding, and an optional
// commitment vector.
func MarshalSetupValues(c curve.Curve, v *setup.Values) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(SetupTagValues))
	putVector(&buf, v.Share)
	putVector(&buf, v.Blinding)
	putPresence(&buf, v.Commitments != nil)
	if v.Commitments != nil {
		putPoints(&buf, c, v.Commitments)
	}
	return buf.Bytes(), nil
}

// UnmarshalSetupValues decodes a persisted Values, resolving curve
// points against curveBackend.
func UnmarshalSetupValues(data []byte, c curve.Curve) (*setup.Values, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("wire: reading setup tag: %w", err)
	}
	if SetupTag(tag) != SetupTagValues {
		return nil, fmt.Errorf("wire: expected SetupValues tag, got %d", tag)
	}
	v := &setup.Values{}
	if v.Share, err = getVector(r); err != nil {
		return nil, err
	}
	if v.Blinding, err = getVector(r); err != nil {
		return nil, err
	}
	present, err := getPresence(r)
	if err != nil {
		return nil, err
	}
	if present {
		if v.Commitments, err = getPoints(r, c); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// MarshalSetupRelay serializes the relay's setup: its own Values plus an
// optional QW self-check table.
func MarshalSetupRelay(c curve.Curve, rel *setup.Relay) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(SetupTagRelay))
	inner, err := MarshalSetupValues(c, rel.Values)
	if err != nil {
		return nil, err
	}
	putBytes(&buf, inner)
	putPresence(&buf, rel.QW != nil)
	if rel.QW != nil {
		putUint64(&buf, uint64(len(rel.QW)))
		for _, row := range rel.QW {
			putPoints(&buf, c, row)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalSetupRelay decodes a persisted Relay setup.
func UnmarshalSetupRelay(data []byte, c curve.Curve) (*setup.Relay, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("wire: reading setup tag: %w", err)
	}
	if SetupTag(tag) != SetupTagRelay {
		return nil, fmt.Errorf("wire: expected SetupRelay tag, got %d", tag)
	}
	inner, err := getBytes(r)
	if err != nil {
		return nil, err
	}
	values, err := UnmarshalSetupValues(inner, c)
	if err != nil {
		return nil, err
	}
	rel := &setup.Relay{Values: values}
	present, err := getPresence(r)
	if err != nil {
		return nil, err
	}
	if present {
		n, err := getUint64(r)
		if err != nil {
			return nil, err
		}
		rel.QW = make([][]curve.Point, n)
		for i := range rel.QW {
			if rel.QW[i], err = getPoints(r, c); err != nil {
				return nil, err
			}
		}
	}
	return rel, nil
}

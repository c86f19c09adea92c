package compressor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"InferCore/internal/domain/models"
)

// Wire format version; bump on any layout change.
const codecVersion = 1

// encodeRecords serializes events into a compact length-prefixed binary
// layout. Deterministic: indicator maps are written in sorted key order, so
// equal inputs always produce identical bytes.
func encodeRecords(records []*models.Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(codecVersion)
	writeUvarint(&buf, uint64(len(records)))

	for i, e := range records {
		if err := encodeEvent(&buf, e); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeEvent(buf *bytes.Buffer, e *models.Event) error {
	if e == nil {
		return fmt.Errorf("nil event")
	}
	writeString(buf, e.ID)
	writeInt64(buf, e.Timestamp.UnixNano())
	writeString(buf, string(e.Kind))
	writeBytes(buf, e.RawPayload)

	if e.Features == nil {
		buf.WriteByte(0)
		return nil
	}
	buf.WriteByte(1)
	writeString(buf, e.Features.SubjectID)
	writeInt64(buf, e.Features.AsOf.UnixNano())

	names := make([]string, 0, len(e.Features.Indicators))
	for name := range e.Features.Indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	writeUvarint(buf, uint64(len(names)))
	for _, name := range names {
		writeString(buf, name)
		writeFloat64(buf, e.Features.Indicators[name])
	}
	return nil
}

// decodeRecords reverses encodeRecords, restoring insertion order and typed
// payloads.
func decodeRecords(data []byte) ([]*models.Event, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != codecVersion {
		return nil, fmt.Errorf("unsupported codec version %d", version)
	}

	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read record count: %w", err)
	}

	records := make([]*models.Event, 0, n)
	for i := uint64(0); i < n; i++ {
		e, err := decodeEvent(r)
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", i, err)
		}
		records = append(records, e)
	}
	return records, nil
}

func decodeEvent(r *bytes.Reader) (*models.Event, error) {
	id, err := readString(r)
	if err != nil {
		return nil, err
	}
	ts, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	kind, err := readString(r)
	if err != nil {
		return nil, err
	}
	payload, err := readBytes(r)
	if err != nil {
		return nil, err
	}

	e := &models.Event{
		ID:         id,
		Timestamp:  time.Unix(0, ts).UTC(),
		Kind:       models.EventKind(kind),
		RawPayload: payload,
	}
	if err := e.DecodePayload(); err != nil {
		return nil, err
	}

	hasFeatures, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read features flag: %w", err)
	}
	if hasFeatures == 0 {
		return e, nil
	}

	subject, err := readString(r)
	if err != nil {
		return nil, err
	}
	asOf, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read indicator count: %w", err)
	}
	indicators := make(map[string]float64, count)
	for i := uint64(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readFloat64(r)
		if err != nil {
			return nil, err
		}
		indicators[name] = v
	}
	e.Features = &models.FeatureVector{
		SubjectID:  subject,
		AsOf:       time.Unix(0, asOf).UTC(),
		Indicators: indicators,
	}
	return e, nil
}

// --- primitive writers/readers ---

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	buf.Write(tmp[:])
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("truncated field: want %d bytes, have %d", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read bytes: %w", err)
	}
	return b, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, fmt.Errorf("read int64: %w", err)
	}
	return int64(binary.BigEndian.Uint64(tmp[:])), nil
}

func readFloat64(r *bytes.Reader) (float64, error) {
	v, err := readInt64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

package pebblelog

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"

	"github.com/rzbill/strand/internal/eventstore"
)

// Record framing: varint headerLen | header | varint metaLen | metadata |
// payload | crc32c(header|metadata|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// envelope is the header JSON stored alongside each record.
type envelope struct {
	ID          string `json:"id"`
	Stream      string `json:"stream"`
	Version     int64  `json:"version"`
	Type        string `json:"type,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

func encodeRecord(ev eventstore.Event) ([]byte, error) {
	header, err := json.Marshal(envelope{
		ID:          ev.ID,
		Stream:      ev.Stream,
		Version:     ev.Version,
		Type:        ev.Type,
		CreatedAtMs: ev.CreatedAtMs,
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 20+len(header)+len(ev.Metadata)+len(ev.Payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	n = binary.PutUvarint(tmp[:], uint64(len(ev.Metadata)))
	out = append(out, tmp[:n]...)
	out = append(out, ev.Metadata...)
	out = append(out, ev.Payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, ev.Metadata)
	crc = crc32.Update(crc, castagnoli, ev.Payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out, nil
}

// decodeRecord rebuilds an event from a framed record at the given global
// position. The second result is false when framing or checksum is invalid.
func decodeRecord(pos uint64, b []byte) (eventstore.Event, bool) {
	if len(b) < 2+4 {
		return eventstore.Event{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || n+int(hlen) > len(b) {
		return eventstore.Event{}, false
	}
	header := b[n : n+int(hlen)]
	rest := b[n+int(hlen):]

	mlen, m := binary.Uvarint(rest)
	if m <= 0 || m+int(mlen)+4 > len(rest) {
		return eventstore.Event{}, false
	}
	metadata := rest[m : m+int(mlen)]
	payload := rest[m+int(mlen) : len(rest)-4]

	expect := binary.BigEndian.Uint32(rest[len(rest)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, metadata)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return eventstore.Event{}, false
	}

	var env envelope
	if err := json.Unmarshal(header, &env); err != nil {
		return eventstore.Event{}, false
	}
	return eventstore.Event{
		ID:          env.ID,
		Stream:      env.Stream,
		Version:     env.Version,
		Position:    pos,
		Type:        env.Type,
		Payload:     append([]byte(nil), payload...),
		Metadata:    append([]byte(nil), metadata...),
		CreatedAtMs: env.CreatedAtMs,
	}, true
}

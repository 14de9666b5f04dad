package pebblelog

import (
	"encoding/binary"

	"github.com/rzbill/strand/internal/eventstore"
)

// Keyspace helpers for Pebble keys. All segments are '/'-separated; stream
// and subscription names are validated to never contain '/'.

var (
	sep          = byte('/')
	posPrefix    = []byte("es/pos/")
	streamPrefix = []byte("es/stream/")
	cursorPrefix = []byte("es/cursor/")
	metaSuffix   = []byte("/meta")
	versionSeg   = []byte("/v/")
	keyLatestPos = []byte("es/meta/pos")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyPos builds the global-order entry key.
func keyPos(pos uint64) []byte {
	k := make([]byte, 0, len(posPrefix)+8)
	k = append(k, posPrefix...)
	return appendBE8(k, pos)
}

// keyStreamMeta builds the per-stream metadata key.
func keyStreamMeta(stream string) []byte {
	k := make([]byte, 0, len(streamPrefix)+len(stream)+len(metaSuffix))
	k = append(k, streamPrefix...)
	k = append(k, stream...)
	k = append(k, metaSuffix...)
	return k
}

// keyStreamVersion builds the stream index key with a big-endian version for
// proper ordering.
func keyStreamVersion(stream string, version int64) []byte {
	k := make([]byte, 0, len(streamPrefix)+len(stream)+len(versionSeg)+8)
	k = append(k, streamPrefix...)
	k = append(k, stream...)
	k = append(k, versionSeg...)
	return appendBE8(k, uint64(version))
}

// keyCursor builds the durable cursor key for a scope and name.
func keyCursor(scope eventstore.Scope, name string) []byte {
	k := make([]byte, 0, len(cursorPrefix)+len(scope)+len(name)+1)
	k = append(k, cursorPrefix...)
	k = append(k, scope...)
	k = append(k, sep)
	k = append(k, name...)
	return k
}

// upperBound returns the exclusive upper bound for a prefix scan.
func upperBound(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), 0xFF)
}

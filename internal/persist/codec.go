// Package persist implements the optional on-disk persistence collaborator
// described in spec.md §6: a background loop that periodically snapshots
// each store shard to disk and, on startup, loads any snapshot back in.
// The store treats this package as an external collaborator, not a core
// dependency — spec.md §1 places persistence out of the core's scope.
package persist

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/respkv/respkv-go/internal/store"
)

// encodeRecord writes one [u32 key_len][u32 val_len][key][val] frame to w.
func encodeRecord(w *bufio.Writer, rec store.RawRecord) error {
	var lens [8]byte
	binary.BigEndian.PutUint32(lens[0:4], uint32(len(rec.Key)))
	binary.BigEndian.PutUint32(lens[4:8], uint32(len(rec.Value)))
	if _, err := w.Write(lens[:]); err != nil {
		return fmt.Errorf("persist: write lengths: %w", err)
	}
	if _, err := w.WriteString(rec.Key); err != nil {
		return fmt.Errorf("persist: write key: %w", err)
	}
	if _, err := w.Write(rec.Value); err != nil {
		return fmt.Errorf("persist: write value: %w", err)
	}
	return nil
}

// decodeRecord reads one frame from r. It returns io.EOF (unwrapped) when
// the stream is exhausted cleanly at a frame boundary.
func decodeRecord(r *bufio.Reader) (store.RawRecord, error) {
	var lens [8]byte
	if _, err := io.ReadFull(r, lens[:]); err != nil {
		if err == io.EOF {
			return store.RawRecord{}, io.EOF
		}
		return store.RawRecord{}, fmt.Errorf("persist: read lengths: %w", err)
	}
	keyLen := binary.BigEndian.Uint32(lens[0:4])
	valLen := binary.BigEndian.Uint32(lens[4:8])

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return store.RawRecord{}, fmt.Errorf("persist: read key: %w", err)
	}
	val := make([]byte, valLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return store.RawRecord{}, fmt.Errorf("persist: read value: %w", err)
	}
	return store.RawRecord{Key: string(key), Value: val}, nil
}

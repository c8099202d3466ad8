// Package binlog records and replays sessions as a binary stream of
// timestamped sensor frames.
package binlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// File layout: a global header
//
//	magic(4) version(2) reserved(2)
//
// followed by records of
//
//	tsMs(8) deviceID(4) frameType(1) payloadLen(2) payload
//
// little-endian throughout.
const (
	FileMagic   = 0x504C4F47 // "PLOG"
	FileVersion = 1

	globalHdrLen = 8
	recordHdrLen = 15

	// MaxRecordPayload rejects corrupt length fields during replay.
	MaxRecordPayload = 64 * 1024
)

// Record is one replayable sensor frame with its capture time.
type Record struct {
	TimestampMs int64
	DeviceID    uint32
	Type        uint8
	Payload     []byte
}

// Writer appends records to a session file. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf [recordHdrLen]byte
}

// Create opens path for writing and emits the global header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("binlog create: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter wraps an io.Writer and emits the global header.
func NewWriter(w io.Writer) (*Writer, error) {
	var hdr [globalHdrLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], FileMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], FileVersion)
	if _, err := w.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("binlog header: %w", err)
	}
	return &Writer{w: w}, nil
}

// WriteRecord appends one frame.
func (w *Writer) WriteRecord(tsMs int64, deviceID uint32, frameType uint8, payload []byte) error {
	if len(payload) > MaxRecordPayload {
		return fmt.Errorf("binlog record payload too large: %d", len(payload))
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	binary.LittleEndian.PutUint64(w.buf[0:8], uint64(tsMs))
	binary.LittleEndian.PutUint32(w.buf[8:12], deviceID)
	w.buf[12] = frameType
	binary.LittleEndian.PutUint16(w.buf[13:15], uint16(len(payload)))
	if _, err := w.w.Write(w.buf[:]); err != nil {
		return err
	}
	_, err := w.w.Write(payload)
	return err
}

// Close closes the underlying writer if it is a closer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

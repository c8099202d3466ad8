package binlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Reader iterates over the records of a session stream.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
}

// Open opens a session file for replay and validates the global header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("binlog open: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader wraps an io.Reader and validates the global header.
func NewReader(rd io.Reader) (*Reader, error) {
	br := bufio.NewReader(rd)
	hdr := make([]byte, globalHdrLen)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("binlog header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != FileMagic {
		return nil, fmt.Errorf("binlog: bad magic 0x%x", binary.LittleEndian.Uint32(hdr[0:4]))
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != FileVersion {
		return nil, fmt.Errorf("binlog: unsupported version %d", v)
	}
	return &Reader{r: br}, nil
}

// Next returns the next record, or io.EOF when the stream ends cleanly.
// A truncated trailing record also ends iteration with io.EOF; the session
// was simply cut off mid-write.
func (r *Reader) Next() (Record, error) {
	hdr := make([]byte, recordHdrLen)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("binlog record header: %w", err)
	}

	payloadLen := int(binary.LittleEndian.Uint16(hdr[13:15]))
	if payloadLen > MaxRecordPayload {
		return Record{}, fmt.Errorf("binlog: record payload length %d exceeds limit", payloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("binlog record payload: %w", err)
	}

	return Record{
		TimestampMs: int64(binary.LittleEndian.Uint64(hdr[0:8])),
		DeviceID:    binary.LittleEndian.Uint32(hdr[8:12]),
		Type:        hdr[12],
		Payload:     payload,
	}, nil
}

// ReadAll drains the stream into memory.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Close closes the underlying file when the reader was opened from a path.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

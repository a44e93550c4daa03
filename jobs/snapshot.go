package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/value"
)

// SnapshotRecord is one line of a snapshot file.
type SnapshotRecord struct {
	Key   string      `json:"key"`
	Value value.Value `json:"value"`
}

// SnapshotWriter writes zstd-compressed JSON lines. Records are written in
// scan order, so compression runs synchronously.
type SnapshotWriter struct {
	file  *os.File
	zw    *zstd.Encoder
	bytes int64
	count int64
}

// CreateSnapshot creates or truncates the snapshot at path.
func CreateSnapshot(path string) (*SnapshotWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	zw, err := zstd.NewWriter(file, zstd.WithEncoderConcurrency(1))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	return &SnapshotWriter{file: file, zw: zw}, nil
}

// Write appends one entry and returns the uncompressed size of its line.
func (w *SnapshotWriter) Write(k key.Key, v value.Value) (int, error) {
	line, err := json.Marshal(SnapshotRecord{Key: k.String(), Value: v})
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", k, err)
	}
	line = append(line, '\n')
	n, err := w.zw.Write(line)
	w.bytes += int64(n)
	if err != nil {
		return n, fmt.Errorf("write snapshot: %w", err)
	}
	w.count++
	return n, nil
}

// Bytes returns the uncompressed bytes written so far.
func (w *SnapshotWriter) Bytes() int64 { return w.bytes }

// Count returns the records written so far.
func (w *SnapshotWriter) Count() int64 { return w.count }

// Close flushes the compressor and closes the file.
func (w *SnapshotWriter) Close() error {
	err := w.zw.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// SnapshotReader reads a snapshot written by SnapshotWriter.
type SnapshotReader struct {
	file *os.File
	zr   *zstd.Decoder
	dec  *json.Decoder
	line int
}

// OpenSnapshot opens the snapshot at path.
func OpenSnapshot(path string) (*SnapshotReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	zr, err := zstd.NewReader(file, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return &SnapshotReader{file: file, zr: zr, dec: json.NewDecoder(zr)}, nil
}

// Next returns the next entry, or io.EOF after the last one.
func (r *SnapshotReader) Next() (key.Key, value.Value, error) {
	var rec SnapshotRecord
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, value.Value{}, io.EOF
		}
		return nil, value.Value{}, fmt.Errorf("%w: record %d: %v", ErrInvalidSnapshot, r.line+1, err)
	}
	r.line++
	k, err := key.Parse(rec.Key)
	if err != nil {
		return nil, value.Value{}, fmt.Errorf("%w: record %d: %v", ErrInvalidSnapshot, r.line, err)
	}
	return k, rec.Value, nil
}

// Close releases the decoder and closes the file.
func (r *SnapshotReader) Close() error {
	r.zr.Close()
	return r.file.Close()
}

// CountSnapshot returns the number of records in the snapshot at path.
func CountSnapshot(path string) (int64, error) {
	r, err := OpenSnapshot(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	var n int64
	for {
		var raw json.RawMessage
		if err := r.dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("%w: record %d: %v", ErrInvalidSnapshot, n+1, err)
		}
		n++
	}
}

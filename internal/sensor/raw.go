// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sensor

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/evsync/internal/event"
)

const (
	rawMagic      = "EVSRAW01"
	rawRecordSize = 13
)

// RawPath returns the raw capture file path for a node and session.
func RawPath(dir, node, sessionID string) string {
	return filepath.Join(dir, node+"-"+sessionID+".raw")
}

// RawHeader identifies the producer of a raw capture file.
type RawHeader struct {
	Node      string
	SessionID string
}

// rawRecorder appends events to a pending file that only appears under
// its final name after Commit.
type rawRecorder struct {
	path    string
	pending *renameio.PendingFile
	w       *bufio.Writer
	buf     [rawRecordSize]byte
	events  uint64
}

func newRawRecorder(dir, node, sessionID string) (*rawRecorder, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create raw dir: %w", err)
	}
	path := RawPath(dir, node, sessionID)
	pending, err := renameio.NewPendingFile(path, renameio.WithTempDir(dir), renameio.WithPermissions(0o640))
	if err != nil {
		return nil, fmt.Errorf("create pending raw file: %w", err)
	}
	r := &rawRecorder{path: path, pending: pending, w: bufio.NewWriterSize(pending, 64<<10)}
	if err := r.writeHeader(RawHeader{Node: node, SessionID: sessionID}); err != nil {
		_ = pending.Cleanup()
		return nil, err
	}
	return r, nil
}

func (r *rawRecorder) writeHeader(h RawHeader) error {
	if _, err := r.w.WriteString(rawMagic); err != nil {
		return fmt.Errorf("write raw header: %w", err)
	}
	for _, s := range []string{h.Node, h.SessionID} {
		var n [2]byte
		binary.LittleEndian.PutUint16(n[:], uint16(len(s)))
		if _, err := r.w.Write(n[:]); err != nil {
			return fmt.Errorf("write raw header: %w", err)
		}
		if _, err := r.w.WriteString(s); err != nil {
			return fmt.Errorf("write raw header: %w", err)
		}
	}
	return nil
}

func (r *rawRecorder) Write(events []event.Event) error {
	for _, ev := range events {
		binary.LittleEndian.PutUint64(r.buf[0:8], uint64(ev.T))
		binary.LittleEndian.PutUint16(r.buf[8:10], ev.X)
		binary.LittleEndian.PutUint16(r.buf[10:12], ev.Y)
		r.buf[12] = byte(ev.P)
		if _, err := r.w.Write(r.buf[:]); err != nil {
			return fmt.Errorf("write raw events: %w", err)
		}
	}
	r.events += uint64(len(events))
	return nil
}

// Commit flushes and atomically publishes the file under its final name.
func (r *rawRecorder) Commit() error {
	if err := r.w.Flush(); err != nil {
		_ = r.pending.Cleanup()
		return fmt.Errorf("flush raw file: %w", err)
	}
	if err := r.pending.CloseAtomicallyReplace(); err != nil {
		_ = r.pending.Cleanup()
		return fmt.Errorf("atomically replace raw file: %w", err)
	}
	return nil
}

// Discard removes the pending file.
func (r *rawRecorder) Discard() error {
	return r.pending.Cleanup()
}

// ReadRaw decodes a raw capture stream.
func ReadRaw(rd io.Reader) (RawHeader, []event.Event, error) {
	br := bufio.NewReader(rd)
	var h RawHeader

	magic := make([]byte, len(rawMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return h, nil, fmt.Errorf("read raw header: %w", err)
	}
	if string(magic) != rawMagic {
		return h, nil, fmt.Errorf("read raw header: bad magic %q", magic)
	}
	fields := []*string{&h.Node, &h.SessionID}
	for _, f := range fields {
		var n [2]byte
		if _, err := io.ReadFull(br, n[:]); err != nil {
			return h, nil, fmt.Errorf("read raw header: %w", err)
		}
		s := make([]byte, binary.LittleEndian.Uint16(n[:]))
		if _, err := io.ReadFull(br, s); err != nil {
			return h, nil, fmt.Errorf("read raw header: %w", err)
		}
		*f = string(s)
	}

	var out []event.Event
	var rec [rawRecordSize]byte
	for {
		_, err := io.ReadFull(br, rec[:])
		if errors.Is(err, io.EOF) {
			return h, out, nil
		}
		if err != nil {
			return h, out, fmt.Errorf("read raw events: %w", err)
		}
		out = append(out, event.Event{
			T: int64(binary.LittleEndian.Uint64(rec[0:8])),
			X: binary.LittleEndian.Uint16(rec[8:10]),
			Y: binary.LittleEndian.Uint16(rec[10:12]),
			P: event.Polarity(rec[12]),
		})
	}
}

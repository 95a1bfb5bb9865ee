// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sensor

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/evsync/internal/event"
)

func TestRawRecorderCommitRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "raw")
	rec, err := newRawRecorder(dir, "evs0", "sess")
	require.NoError(t, err)

	in := []event.Event{
		{T: 1, X: 10, Y: 20, P: event.PolarityOn},
		{T: 1 << 40, X: 65535, Y: 0, P: event.PolarityOff},
	}
	require.NoError(t, rec.Write(in[:1]))
	require.NoError(t, rec.Write(in[1:]))

	_, err = os.Stat(RawPath(dir, "evs0", "sess"))
	require.True(t, os.IsNotExist(err), "file must not appear before commit")

	require.NoError(t, rec.Commit())
	data, err := os.ReadFile(RawPath(dir, "evs0", "sess"))
	require.NoError(t, err)

	h, out, err := ReadRaw(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, RawHeader{Node: "evs0", SessionID: "sess"}, h)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRawRecorderDiscardLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	rec, err := newRawRecorder(dir, "evs0", "sess")
	require.NoError(t, err)
	require.NoError(t, rec.Write([]event.Event{{T: 1}}))
	require.NoError(t, rec.Discard())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadRawRejectsBadMagic(t *testing.T) {
	_, _, err := ReadRaw(bytes.NewReader([]byte("NOTRAW00")))
	require.Error(t, err)
}

func TestReadRawRejectsTruncatedRecord(t *testing.T) {
	dir := t.TempDir()
	rec, err := newRawRecorder(dir, "n", "s")
	require.NoError(t, err)
	require.NoError(t, rec.Write([]event.Event{{T: 7}}))
	require.NoError(t, rec.Commit())

	data, err := os.ReadFile(RawPath(dir, "n", "s"))
	require.NoError(t, err)
	_, out, err := ReadRaw(bytes.NewReader(data[:len(data)-3]))
	require.Error(t, err)
	assert.Empty(t, out)
}

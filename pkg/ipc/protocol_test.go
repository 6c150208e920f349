package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{ID: "abc", Type: CmdPing}
	require.NoError(t, writeFrame(&buf, req))

	var got Request
	require.NoError(t, readFrame(&buf, &got))
	assert.Equal(t, req, got)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	buf.Write(header[:])

	var got Request
	err := readFrame(&buf, &got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestReadFrameShortHeaderIsEOF(t *testing.T) {
	var got Request
	err := readFrame(bytes.NewReader([]byte{0, 1}), &got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF))
}

func TestWriteFrameRejectsOversizeBody(t *testing.T) {
	var buf bytes.Buffer
	oversize := make([]byte, MaxFrameSize+1)
	err := writeFrame(&buf, string(oversize))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

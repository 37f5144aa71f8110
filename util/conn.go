package util

import (
	"io"

	"github.com/pkg/errors"
)

// MaxMessageSize bounds a single framed message.
const MaxMessageSize = 64 << 20

// SendPrefixMsg writes a two-byte prefix, an 8-byte big-endian length and the payload.
func SendPrefixMsg(w io.Writer, prefix [2]byte, req []byte) error {
	msg := BufferAppend(prefix[:], BinaryToByte(uint64(len(req))), req)
	_, err := w.Write(msg)
	return err
}

func ReceivePrefix(r io.Reader) ([2]byte, error) {
	var prefix [2]byte
	_, err := io.ReadFull(r, prefix[:])
	return prefix, err
}

// ReceiveMsg reads the length-delimited payload that follows a prefix.
func ReceiveMsg(r io.Reader) ([]byte, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, err
	}
	var msgLen uint64
	if err := ByteToInt(tmp[:], &msgLen); err != nil {
		return nil, err
	}
	if msgLen > MaxMessageSize {
		return nil, errors.Errorf("message of %d bytes exceeds limit", msgLen)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

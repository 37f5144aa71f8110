package util

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/pkg/errors"
)

// BinaryToByte encodes a fixed-size integer big-endian so that byte order matches numeric order.
func BinaryToByte[T ~uint32 | ~int32 | ~uint64 | ~uint8 | ~int64](value T) []byte {
	var buffer bytes.Buffer
	// writes into a bytes.Buffer of a fixed-size value never fail
	_ = binary.Write(&buffer, binary.BigEndian, value)
	return buffer.Bytes()
}

func ByteToInt[T ~uint32 | ~int32 | ~uint64 | ~uint8 | ~int64](buf []byte, value *T) error {
	return binary.Read(bytes.NewReader(buf), binary.BigEndian, value)
}

func BufferAppend(args ...[]byte) []byte {
	var buffer bytes.Buffer
	for _, v := range args {
		buffer.Write(v)
	}
	return buffer.Bytes()
}

func BoolToByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}

// GobEncode serializes v with encoding/gob. Interface fields must be registered with gob.Register.
func GobEncode[T any](v *T) ([]byte, error) {
	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(v); err != nil {
		return nil, errors.Wrapf(err, "gob encode %T", v)
	}
	return buffer.Bytes(), nil
}

func GobDecode[T any](value []byte, v *T) error {
	if len(value) == 0 {
		return errors.New("gob decode: empty input")
	}
	if err := gob.NewDecoder(bytes.NewReader(value)).Decode(v); err != nil {
		return errors.Wrapf(err, "gob decode %T", v)
	}
	return nil
}

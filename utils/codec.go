package utils

import (
	"bytes"
	"encoding/gob"

	"golang.org/x/xerrors"
)

// EncodeGob encodes the given value with encoding/gob
func EncodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, xerrors.Errorf("failed to encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// DecodeGob decodes the given bytes into v
func DecodeGob(b []byte, v interface{}) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(v); err != nil {
		return xerrors.Errorf("failed to decode %T: %w", v, err)
	}
	return nil
}

package kv

import (
	"encoding/json"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

func encode(v interface{}) ([]byte, error) {
	enc, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal document")
	}
	return snappy.Encode(nil, enc), nil
}

func decode(data []byte, v interface{}) error {
	dec, err := snappy.Decode(nil, data)
	if err != nil {
		return errors.Wrap(err, "could not decompress document")
	}
	if err := json.Unmarshal(dec, v); err != nil {
		return errors.Wrap(err, "could not unmarshal document")
	}
	return nil
}

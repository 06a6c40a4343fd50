package resultcache

import (
	"fmt"

	"github.com/golang/snappy"
)

// Codec transforms values on their way into and out of a Store
type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

type identityCodec struct{}

func (identityCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (identityCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// SnappyCodec compresses values with Snappy block encoding
type SnappyCodec struct{}

// Encode compresses data
func (SnappyCodec) Encode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	return snappy.Encode(nil, data), nil
}

// Decode decompresses data
func (SnappyCodec) Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %w", err)
	}
	return out, nil
}

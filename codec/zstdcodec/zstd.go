// Package zstdcodec provides a zstd compression codec.
package zstdcodec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/huykn/actioncache/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec implements zstd compression. The encoder and decoder are shared and
// safe for concurrent EncodeAll/DecodeAll calls.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New returns a new zstd codec.
func New() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Encode compresses src.
func (c *Codec) Encode(src []byte) ([]byte, error) {
	return c.encoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decode decompresses src.
func (c *Codec) Decode(src []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing value: %w", err)
	}
	return out, nil
}

// Name returns "zstd".
func (c *Codec) Name() string {
	return "zstd"
}

// Close releases the encoder and decoder.
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

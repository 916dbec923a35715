// Package noopcodec provides a no-op codec (no compression).
package noopcodec

import "github.com/huykn/actioncache/codec"

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec implements no compression.
type Codec struct{}

// New returns a new no-op codec.
func New() *Codec {
	return &Codec{}
}

// Encode returns a copy of src.
func (c *Codec) Encode(src []byte) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

// Decode returns a copy of src.
func (c *Codec) Decode(src []byte) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

// Name returns "none".
func (c *Codec) Name() string {
	return "none"
}

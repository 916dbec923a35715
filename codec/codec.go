// Package codec provides compression for values held in the compressed tier.
package codec

// Codec compresses and decompresses whole values.
type Codec interface {
	// Encode returns the compressed form of src.
	Encode(src []byte) ([]byte, error)
	// Decode returns the original bytes of a value produced by Encode.
	Decode(src []byte) ([]byte, error)
	// Name identifies the codec in logs and metrics (e.g., "zstd").
	Name() string
}

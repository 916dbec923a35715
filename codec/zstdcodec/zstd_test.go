package zstdcodec

import (
	"bytes"
	"testing"
)

func TestCodecCompressesRepetitiveData(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	defer c.Close()

	original := bytes.Repeat([]byte("object-action-result "), 500)

	encoded, err := c.Encode(original)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if len(encoded) >= len(original) {
		t.Fatalf("Expected compression, got %d >= %d bytes", len(encoded), len(original))
	}

	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Fatal("Decoded data does not match original")
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	defer c.Close()

	if _, err := c.Decode([]byte("not zstd at all")); err == nil {
		t.Fatal("Expected error decoding garbage")
	}
}

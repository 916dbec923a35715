package storage

import (
	"strings"
	"testing"
)

func TestWithGCSPrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"prefix", "prefix/"},
		{"prefix/", "prefix/"},
		{"a/b/c", "a/b/c/"},
		{"a/b/c/", "a/b/c/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s := &GCSStore{}
			WithGCSPrefix(tt.input)(s)
			if s.prefix != tt.want {
				t.Errorf("prefix = %q, want %q", s.prefix, tt.want)
			}
		})
	}
}

func TestGCSStore_objectKey(t *testing.T) {
	s := &GCSStore{prefix: "data/v1/"}
	key := "analyze|requirement|req%7C7|abc%3D|%7B%22depth%22%3A2%7D"

	got := s.objectKey(key)
	if !strings.HasPrefix(got, "data/v1/") {
		t.Fatalf("objectKey() = %q, want prefix data/v1/", got)
	}
	decoded, ok := decodeObjectName(s.prefix, got)
	if !ok || decoded != key {
		t.Errorf("decodeObjectName(%q) = %q, %v, want %q", got, decoded, ok, key)
	}
}

func TestGCSAndS3ShareObjectNames(t *testing.T) {
	key := "read|vendor|v-1|abc%3D|%7B%7D"
	g := &GCSStore{prefix: objectPrefix("cache")}
	s := &S3Store{prefix: objectPrefix("cache")}
	if g.objectKey(key) != s.objectKey(key) {
		t.Errorf("object names differ: gcs %q, s3 %q", g.objectKey(key), s.objectKey(key))
	}
}

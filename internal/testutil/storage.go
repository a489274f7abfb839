// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"

	"projecthub/internal/storage"
)

// ErrInjected is returned by FlakyStore when a write is set to fail.
var ErrInjected = errors.New("injected storage failure")

// FlakyStore wraps a storage.Store and fails the Nth Put.
type FlakyStore struct {
	storage.Store

	mu      sync.Mutex
	failOn  int
	puts    int
	deleted []string
}

// NewFlakyStore fails the failOn-th Put (1-based). Zero never fails.
func NewFlakyStore(inner storage.Store, failOn int) *FlakyStore {
	return &FlakyStore{Store: inner, failOn: failOn}
}

func (s *FlakyStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	s.puts++
	fail := s.failOn > 0 && s.puts == s.failOn
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.Store.Put(ctx, key, body, contentType)
}

func (s *FlakyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, key)
	s.mu.Unlock()
	return s.Store.Delete(ctx, key)
}

// Deleted lists the keys removed through the wrapper.
func (s *FlakyStore) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// TinyPNG returns an in-memory PNG byte slice with the requested dimensions.
func TinyPNG(t interface {
	Helper()
	Fatalf(string, ...any)
}, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// #nosec G115: modulo 256 is safe for uint8
			img.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return encodePNG(t, img)
}

// TransparentPNG returns a PNG with a varying alpha channel.
func TransparentPNG(t interface {
	Helper()
	Fatalf(string, ...any)
}, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// #nosec G115: modulo 255 is safe for uint8
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 0, B: 0, A: uint8((x + y) % 255)})
		}
	}
	return encodePNG(t, img)
}

func encodePNG(t interface {
	Helper()
	Fatalf(string, ...any)
}, img image.Image) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

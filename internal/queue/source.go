package queue

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// MaxSourceBytes bounds a single uploaded source image.
const MaxSourceBytes = 32 << 20

var (
	ErrEmptySource  = errors.New("source image is empty")
	ErrNotImage     = errors.New("source is not an image")
	ErrSourceTooBig = errors.New("source image too large")
)

// NewSource builds a source Image from uploaded bytes. The declared MIME type
// is kept when it names an image; otherwise the type is sniffed from the data.
func NewSource(name string, data []byte, declaredMIME string) (Image, error) {
	name = strings.TrimSpace(filepath.Base(strings.TrimSpace(name)))
	if name == "." || name == string(filepath.Separator) {
		name = ""
	}
	switch {
	case len(data) == 0:
		return Image{}, fmt.Errorf("%s: %w", displayOr(name), ErrEmptySource)
	case len(data) > MaxSourceBytes:
		return Image{}, fmt.Errorf("%s: %w (%d bytes, limit %d)", displayOr(name), ErrSourceTooBig, len(data), MaxSourceBytes)
	}

	mimeType := strings.ToLower(strings.TrimSpace(declaredMIME))
	if mt, _, ok := strings.Cut(mimeType, ";"); ok {
		mimeType = strings.TrimSpace(mt)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = SniffMIME(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return Image{}, fmt.Errorf("%s: %w (detected %s)", displayOr(name), ErrNotImage, mimeType)
	}
	return Image{Name: name, MIMEType: mimeType, Data: data}, nil
}

// SniffMIME reports the content type of raw bytes.
func SniffMIME(data []byte) string {
	detected := http.DetectContentType(data)
	if mt, _, ok := strings.Cut(detected, ";"); ok {
		detected = mt
	}
	return strings.TrimSpace(detected)
}

func displayOr(name string) string {
	if name == "" {
		return "untitled"
	}
	return name
}

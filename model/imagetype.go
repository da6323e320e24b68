package model

import (
	"bytes"
	"mime"
	"strings"
)

// ImageType identifies the image formats a strip may be delivered in.
type ImageType int

const (
	ImageUnknown ImageType = iota
	ImageGIF
	ImageJFIF
)

var (
	gif87a = []byte("GIF87a")
	gif89a = []byte("GIF89a")

	// Bytes 4 and 5 hold the APP0 segment length and are compared as zero.
	jfifPrefix = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x00, 0x4a, 0x46, 0x49, 0x46, 0x00}
)

// String returns the lower-case name of the type.
func (t ImageType) String() string {
	switch t {
	case ImageGIF:
		return "gif"
	case ImageJFIF:
		return "jfif"
	default:
		return "unknown"
	}
}

// MediaType returns the MIME type for t, or "" for ImageUnknown.
func (t ImageType) MediaType() string {
	switch t {
	case ImageGIF:
		return "image/gif"
	case ImageJFIF:
		return "image/jpeg"
	default:
		return ""
	}
}

// Extension returns a file extension (with dot) for t.
func (t ImageType) Extension() string {
	switch t {
	case ImageGIF:
		return ".gif"
	case ImageJFIF:
		return ".jpg"
	default:
		return ".bin"
	}
}

// IsGIF reports whether b starts with a GIF87a or GIF89a header.
func IsGIF(b []byte) bool {
	if len(b) < len(gif87a) {
		return false
	}
	head := b[:len(gif87a)]
	return bytes.Equal(head, gif87a) || bytes.Equal(head, gif89a)
}

// IsJFIF reports whether b starts with a JFIF header. b is not modified.
func IsJFIF(b []byte) bool {
	if len(b) < len(jfifPrefix) {
		return false
	}
	head := make([]byte, len(jfifPrefix))
	copy(head, b)
	head[4], head[5] = 0x00, 0x00
	return bytes.Equal(head, jfifPrefix)
}

// Sniff inspects the leading bytes of b.
func Sniff(b []byte) ImageType {
	switch {
	case IsGIF(b):
		return ImageGIF
	case IsJFIF(b):
		return ImageJFIF
	default:
		return ImageUnknown
	}
}

// ImageTypeForContentType maps a Content-Type header value to the image
// family it declares. Parameters such as charset are ignored.
func ImageTypeForContentType(contentType string) ImageType {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(contentType)
	}
	switch strings.ToLower(mediaType) {
	case "image/gif":
		return ImageGIF
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return ImageJFIF
	default:
		return ImageUnknown
	}
}

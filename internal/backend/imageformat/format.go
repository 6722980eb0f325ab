package imageformat

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
)

// ErrUnsupported is returned for image types outside the allow-list.
var ErrUnsupported = errors.New("unsupported image type")

// Supported lists the image types accepted by the service, in data-URI form.
var Supported = []string{"png", "jpeg", "tiff", "gif"}

// IsSupported reports whether imageType is on the allow-list. The comparison is exact.
func IsSupported(imageType string) bool {
	for _, s := range Supported {
		if s == imageType {
			return true
		}
	}
	return false
}

// Detect sniffs the content and returns its type if it is on the allow-list.
func Detect(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty content", ErrUnsupported)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if !IsSupported(format) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, format)
	}
	return format, nil
}

// ContentType maps a stored extension to a MIME type. Unknown extensions map
// to application/octet-stream.
func ContentType(extension string) string {
	switch strings.ToLower(extension) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "tif", "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// Package datauri converts between image data-URIs and raw bytes.
package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jo-hoe/patientimages/internal/backend/imageformat"
)

var (
	ErrMalformed       = errors.New("malformed data URI, must be data:image/<image type>,<image data>")
	ErrUnsupportedType = errors.New("image type in data URI is not supported")
)

const prefix = "data:image/"

var dataURIPattern = regexp.MustCompile(`^data:image/(\w*)((?:;[^,]*)*),(.*)$`)

// Decode splits a data:image URI into its image type and decoded bytes. The
// type must be on the imageformat allow-list.
func Decode(uri string) (imageType string, data []byte, err error) {
	if strings.Count(uri, ",") != 1 {
		return "", nil, ErrMalformed
	}
	m := dataURIPattern.FindStringSubmatch(strings.TrimSpace(uri))
	if m == nil {
		return "", nil, ErrMalformed
	}
	// the payload is base64 whether or not ";base64" is declared
	imageType, payload := m[1], m[3]
	if payload == "" {
		return "", nil, ErrMalformed
	}
	if !imageformat.IsSupported(imageType) {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedType, imageType)
	}

	data, err = decodeBase64(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return imageType, data, nil
}

// Encode builds a base64 data URI. imageType is used verbatim, so a stored
// extension such as "jpg" yields data:image/jpg.
func Encode(imageType string, data []byte) string {
	return prefix + imageType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
}

package render

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"browserd/internal/apperr"
)

// Decode sniffs and decodes a PNG or JPEG screenshot.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperr.Wrap(apperr.BadArguments, err, "could not decode image")
	}
	return img, format, nil
}

// Encode re-serializes img in the given format ("png" or "jpeg"); png is
// the default for anything else.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg", "jpg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.BackendError, err, "could not encode image")
	}
	return buf.Bytes(), nil
}

// Package qrimage renders pairing codes as scannable PNG images.
package qrimage

import (
	"encoding/base64"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// PNG encodes payload as a QR code PNG.
func PNG(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, errors.New("qrimage: empty payload")
	}
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("qrimage: encode: %w", err)
	}
	return png, nil
}

// DataURL returns payload as a base64 PNG data URL ready for an <img> tag.
func DataURL(payload string) (string, error) {
	png, err := PNG(payload, DefaultSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

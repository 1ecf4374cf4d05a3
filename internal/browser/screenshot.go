package browser

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Downscale shrinks a screenshot to maxWidth keeping the aspect ratio. Images
// already narrow enough, or a non-positive maxWidth, pass through unchanged.
func Downscale(data []byte, maxWidth int) ([]byte, error) {
	if maxWidth <= 0 || len(data) == 0 {
		return data, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if img.Bounds().Dx() <= maxWidth {
		return data, nil
	}
	resized := imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

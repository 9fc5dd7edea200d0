// Package images - Image definition for processing utilities.
package images

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatGIF is the GIF image format. Only the first frame is used.
	FormatGIF ImageFormat = "gif"
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// ErrUnsupportedFormat is returned for file extensions that cannot be decoded.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// FormatFromPath infers the image format from a file extension.
func FormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gif":
		return FormatGIF, nil
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "%s", path)
	}
}

// Image represents an encoded image with its format and dimensions.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// LoadImageFile reads an image file and records its format and dimensions
// without decoding the pixels.
//
// Arguments:
//   - path: The path of the GIF, PNG or JPEG file.
//
// Returns:
//   - *Image: The encoded image.
//   - error: An error if the file cannot be read or its header is invalid.
func LoadImageFile(path string) (*Image, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	img := &Image{Format: format, Data: data}
	cfg, err := img.decodeConfig()
	if err != nil {
		return nil, errors.Wrapf(err, "decoding header of %s", path)
	}
	img.Width = cfg.Width
	img.Height = cfg.Height

	return img, nil
}

func (i *Image) decodeConfig() (image.Config, error) {
	r := bytes.NewReader(i.Data)
	switch i.Format {
	case FormatGIF:
		return gif.DecodeConfig(r)
	case FormatJPEG:
		return jpeg.DecodeConfig(r)
	case FormatPNG:
		return png.DecodeConfig(r)
	}
	return image.Config{}, errors.Wrapf(ErrUnsupportedFormat, "%q", i.Format)
}

// Decode decodes the pixels. For animated GIFs the first frame is returned.
func (i *Image) Decode() (image.Image, error) {
	r := bytes.NewReader(i.Data)
	var (
		img image.Image
		err error
	)
	switch i.Format {
	case FormatGIF:
		img, err = gif.Decode(r)
	case FormatJPEG:
		img, err = jpeg.Decode(r)
	case FormatPNG:
		img, err = png.Decode(r)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", i.Format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s image", i.Format)
	}
	return img, nil
}

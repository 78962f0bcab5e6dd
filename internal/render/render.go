package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // frames may be PNG
	"os"
	"time"

	"github.com/avast/retry-go"
)

// DecodeFile opens and decodes the image at path. It returns the decoded
// image and the format name reported by the image package.
func DecodeFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("render: open %q: %w", path, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("render: decode %q: %w", path, err)
	}
	return img, format, nil
}

// Options configures a Renderer.
type Options struct {
	// Frame is the optional overlay. Nil disables framing.
	Frame *Frame
	// Quality is the JPEG encoding quality (1-100). Zero uses 90.
	Quality int
	// Attempts bounds decode retries. Zero or less means a single attempt.
	Attempts int
	// RetryDelay is the pause between decode attempts. Zero uses 50ms.
	RetryDelay time.Duration
}

// Result is one rendered display image.
type Result struct {
	// JPEG holds the encoded composed image.
	JPEG []byte
	// Width and Height are the dimensions of the composed image.
	Width  int
	Height int
	// SourceFormat is the decoded format of the artwork file.
	SourceFormat string
}

// Renderer turns the active artwork file into a display-ready JPEG.
type Renderer struct {
	frame    *Frame
	quality  int
	attempts uint
	delay    time.Duration
}

// NewRenderer builds a Renderer from opts.
func NewRenderer(opts Options) *Renderer {
	if opts.Quality <= 0 {
		opts.Quality = 90
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}
	return &Renderer{
		frame:    opts.Frame,
		quality:  opts.Quality,
		attempts: uint(opts.Attempts),
		delay:    opts.RetryDelay,
	}
}

// Render decodes path, composes it into the frame, and encodes the result.
// Decoding is retried because the file may be caught mid-replacement.
func (r *Renderer) Render(ctx context.Context, path string) (*Result, error) {
	var (
		art    image.Image
		format string
	)
	err := retry.Do(
		func() error {
			var err error
			art, format, err = DecodeFile(path)
			return err
		},
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	composed := Compose(art, r.frame)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, composed, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("render: encode: %w", err)
	}

	b := composed.Bounds()
	return &Result{
		JPEG:         buf.Bytes(),
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceFormat: format,
	}, nil
}

// ValidJPEG reports whether path holds a decodable JPEG image.
func ValidJPEG(path string) error {
	_, format, err := DecodeFile(path)
	if err != nil {
		return err
	}
	if format != "jpeg" {
		return errors.New("render: " + path + " is " + format + ", not jpeg")
	}
	return nil
}

// Package classifier maps one cropped character region to a digit label.
package classifier

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"

	"github.com/disintegration/imaging"

	"github.com/obsgrade/obsgrade/pkg/domain"
)

// CanvasSize is the side of the square the model was trained on.
const CanvasSize = 32

// DefaultClasses maps output indices to labels for the digit model.
var DefaultClasses = []domain.Label{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// Tensor is a single-sample, single-channel NHWC batch.
type Tensor struct {
	Data  []float32
	Shape [4]int64
}

// Backend is the inference capability behind the classifier.
type Backend interface {
	Classify(input Tensor) (domain.Label, error)
	Close() error
}

// NoopBackend is used when no model weights are available. It reads nothing.
type NoopBackend struct{}

// Classify always returns domain.Unknown.
func (NoopBackend) Classify(Tensor) (domain.Label, error) { return domain.Unknown, nil }

// Close is a no-op.
func (NoopBackend) Close() error { return nil }

// DigitClassifier preprocesses regions and delegates inference to a Backend.
type DigitClassifier struct {
	backend Backend
}

// New creates a classifier around backend. A nil backend becomes NoopBackend.
func New(backend Backend) *DigitClassifier {
	if backend == nil {
		backend = NoopBackend{}
	}
	return &DigitClassifier{backend: backend}
}

// Config locates the model weights and the inference runtime.
type Config struct {
	ModelPath   string `yaml:"model_path"`
	LibraryPath string `yaml:"onnxruntime_library"`
	Threads     int    `yaml:"threads" validate:"gte=0"`
}

// Load builds a classifier from cfg. Missing or unreadable weights are not an
// error: the classifier falls back to NoopBackend and every region reads as
// unknown, which sends every challenge to the human fallback.
func Load(cfg Config, logger *slog.Logger) *DigitClassifier {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := openBackend(cfg)
	if err != nil {
		logger.Warn("Digit model unavailable, automatic recognition disabled",
			"model_path", cfg.ModelPath,
			"error", err,
		)
		return New(NoopBackend{})
	}

	logger.Debug("Digit model loaded", "model_path", cfg.ModelPath)
	return New(backend)
}

func openBackend(cfg Config) (Backend, error) {
	if cfg.ModelPath == "" {
		return nil, modelUnavailable("MODEL_PATH_UNSET", "no model path configured")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, modelUnavailable("MODEL_NOT_FOUND", err.Error())
	}
	backend, err := NewONNXBackend(cfg, DefaultClasses)
	if err != nil {
		return nil, modelUnavailable("MODEL_LOAD_FAILED", err.Error())
	}
	return backend, nil
}

func modelUnavailable(code, detail string) error {
	return &domain.DomainError{
		Err:     domain.ErrModelUnavailable,
		Code:    code,
		Message: fmt.Sprintf("%s: %s", domain.ErrModelUnavailable, detail),
	}
}

// Available reports whether a real model backs the classifier.
func (c *DigitClassifier) Available() bool {
	_, noop := c.backend.(NoopBackend)
	return !noop
}

// Classify returns the label for one region crop. Empty crops and the no-op
// backend yield domain.Unknown; inference failures are returned as errors
// wrapping domain.ErrClassifierFault.
func (c *DigitClassifier) Classify(roi *image.Gray) (domain.Label, error) {
	if !c.Available() || roi == nil || roi.Bounds().Empty() {
		return domain.Unknown, nil
	}

	label, err := c.backend.Classify(ToTensor(Preprocess(roi)))
	if err != nil {
		return domain.Unknown, fmt.Errorf("%w: %w", domain.ErrClassifierFault, err)
	}
	return label, nil
}

// Close releases the backend.
func (c *DigitClassifier) Close() error {
	return c.backend.Close()
}

// Preprocess pads roi with black columns on both sides until it is roughly
// square (no vertical padding) and resizes it to CanvasSize×CanvasSize with
// bilinear interpolation. Models trained on the collected dataset depend on
// this exact sequence, including the absence of antialiasing on downscale.
func Preprocess(roi *image.Gray) *image.Gray {
	return resizeLinear(toGray(padSquare(roi)), CanvasSize, CanvasSize)
}

// padSquare adds max(0,(h-w)/2) black columns on each side of roi.
func padSquare(roi *image.Gray) *image.NRGBA {
	b := roi.Bounds()
	pad := max(0, (b.Dy()-b.Dx())/2)
	canvas := imaging.New(b.Dx()+2*pad, b.Dy(), color.Black)
	return imaging.Paste(canvas, roi, image.Pt(pad, 0))
}

// ToTensor normalises a canvas to [0,1] in a [1,H,W,1] batch.
func ToTensor(canvas *image.Gray) Tensor {
	b := canvas.Bounds()
	data := make([]float32, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			data = append(data, float32(canvas.GrayAt(x, y).Y)/255.0)
		}
	}
	return Tensor{Data: data, Shape: [4]int64{1, int64(b.Dy()), int64(b.Dx()), 1}}
}

// Argmax returns the index of the largest value, or -1 for an empty slice.
func Argmax(values []float32) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}

// LabelFor maps a predicted class index to its label.
func LabelFor(classes []domain.Label, idx int) (domain.Label, error) {
	if idx < 0 || idx >= len(classes) {
		return domain.Unknown, errors.New("predicted class index out of range")
	}
	return classes[idx], nil
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return out
}

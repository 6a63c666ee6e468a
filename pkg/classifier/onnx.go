package classifier

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/obsgrade/obsgrade/pkg/domain"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXBackend runs a digit model exported to ONNX. The model takes a
// [1,32,32,1] float32 batch and returns one probability per class.
type ONNXBackend struct {
	session *ort.DynamicAdvancedSession
	options *ort.SessionOptions
	classes []domain.Label
}

// NewONNXBackend opens the model at cfg.ModelPath.
func NewONNXBackend(cfg Config, classes []domain.Label) (*ONNXBackend, error) {
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialise onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", cfg.ModelPath)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}

	if err := setThreads(options, cfg.Threads); err != nil {
		options.Destroy()
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		options,
	)
	if err != nil {
		options.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &ONNXBackend{session: session, options: options, classes: classes}, nil
}

type threadOptions interface {
	SetIntraOpNumThreads(n int) error
	SetInterOpNumThreads(n int) error
}

// setThreads runs operators on n threads (at least one) and graphs serially.
func setThreads(opts threadOptions, n int) error {
	if err := opts.SetIntraOpNumThreads(max(n, 1)); err != nil {
		return fmt.Errorf("set intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return fmt.Errorf("set inter-op threads: %w", err)
	}
	return nil
}

// Classify runs the model and returns the class of maximum probability.
func (b *ONNXBackend) Classify(input Tensor) (domain.Label, error) {
	tensor, err := ort.NewTensor(ort.NewShape(input.Shape[:]...), input.Data)
	if err != nil {
		return domain.Unknown, fmt.Errorf("build input tensor: %w", err)
	}
	defer tensor.Destroy()

	outputs := []ort.Value{nil}
	if err := b.session.Run([]ort.Value{tensor}, outputs); err != nil {
		return domain.Unknown, fmt.Errorf("run model: %w", err)
	}
	if outputs[0] == nil {
		return domain.Unknown, fmt.Errorf("model produced no output")
	}
	defer outputs[0].Destroy()

	probs, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return domain.Unknown, fmt.Errorf("unsupported output type %T", outputs[0])
	}
	return LabelFor(b.classes, Argmax(probs.GetData()))
}

// Close destroys the session.
func (b *ONNXBackend) Close() error {
	if b.session != nil {
		_ = b.session.Destroy()
	}
	if b.options != nil {
		_ = b.options.Destroy()
	}
	return nil
}

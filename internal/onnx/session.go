// Package onnx wraps onnxruntime sessions used by the mention detector and
// the antecedent scorer.
package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// ensureRuntime initializes the onnxruntime environment once per process.
// CONVEL_ONNX_LIB overrides the shared library location.
func ensureRuntime() error {
	initOnce.Do(func() {
		if lib := os.Getenv("CONVEL_ONNX_LIB"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if ort.IsInitialized() {
			return
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// Session is a dynamic-shape onnxruntime session. Run is serialized with a
// mutex: the models here are small and per-call latency is dominated by the
// runtime, not contention.
type Session struct {
	mu          sync.Mutex
	sess        *ort.DynamicAdvancedSession
	outputCount int
}

// NewSession opens the model at path with the given input and output tensor
// names.
func NewSession(path string, inputNames, outputNames []string) (*Session, error) {
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	sess, err := ort.NewDynamicAdvancedSession(path, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("open onnx session %s: %w", path, err)
	}
	return &Session{sess: sess, outputCount: len(outputNames)}, nil
}

// Run feeds batch-of-one int64 tensors (shape 1×len) and returns the first
// output as float32 data plus its shape.
func (s *Session) Run(ctx context.Context, inputs ...[]int64) ([]float32, []int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	inputValues := make([]ort.Value, 0, len(inputs))
	defer func() {
		for _, v := range inputValues {
			v.Destroy()
		}
	}()
	for i, data := range inputs {
		tensor, err := ort.NewTensor(ort.NewShape(1, int64(len(data))), data)
		if err != nil {
			return nil, nil, fmt.Errorf("build input tensor %d: %w", i, err)
		}
		inputValues = append(inputValues, tensor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	outputs := make([]ort.Value, s.outputCount)
	if err := s.sess.Run(inputValues, outputs); err != nil {
		return nil, nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("onnx run: output 0 is %T, want float32 tensor", outputs[0])
	}

	shape := out.GetShape()
	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())
	dims := make([]int64, len(shape))
	copy(dims, shape)
	return data, dims, nil
}

// Close releases the underlying session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	return err
}

package model

import (
	"context"
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"

	apperrors "github.com/Brownie44l1/crop-disease-api/internal/errors"
)

// session is the part of *ort.AdvancedSession the server drives.
type session interface {
	Run() error
	Destroy() error
}

// Server owns an ONNX Runtime session bound to one input and one output
// tensor. Because those tensors are shared, Run calls are serialized.
type Server struct {
	Metadata Metadata

	session session
	input   []float32
	output  []float32
	lock    chan struct{}
	cleanup []func() error
}

// Options configures NewServer.
type Options struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at libonnxruntime; empty uses the platform default.
	LibraryPath string
}

func NewServer(opts Options) (*Server, error) {
	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfig, "load_metadata", "invalid model metadata", err)
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	releaseEnv, err := acquireEnvironment()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInference, "init", "failed to initialize ONNX environment", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		releaseEnv()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		releaseEnv()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		releaseEnv()
		return nil, apperrors.Wrap(apperrors.KindInference, "init", "failed to create ONNX session", err)
	}

	s := newServer(metadata, sess, inputTensor.GetData(), outputTensor.GetData())
	s.cleanup = []func() error{inputTensor.Destroy, outputTensor.Destroy, releaseEnv}
	return s, nil
}

// The ONNX Runtime environment is process-wide.
var (
	ortIsInitialized      = ort.IsInitialized
	ortInitEnvironment    = ort.InitializeEnvironment
	ortDestroyEnvironment = ort.DestroyEnvironment
)

// acquireEnvironment initializes the ONNX Runtime environment if it is not
// running yet. The returned release destroys it only when this call created it.
func acquireEnvironment() (release func() error, err error) {
	if ortIsInitialized() {
		return func() error { return nil }, nil
	}
	if err := ortInitEnvironment(); err != nil {
		return nil, err
	}
	return ortDestroyEnvironment, nil
}

func newServer(metadata Metadata, sess session, input, output []float32) *Server {
	return &Server{
		Metadata: metadata,
		session:  sess,
		input:    input,
		output:   output,
		lock:     make(chan struct{}, 1),
	}
}

// Labels returns the class catalog the model was exported with.
func (s *Server) Labels() LabelSet {
	return s.Metadata.Classes
}

// Predict copies t into the bound input tensor, runs the session and returns
// a private copy of the output vector. Waiting for a busy session stops when
// ctx is done.
func (s *Server) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	if !t.SameShape(s.Metadata.InputShape) || len(t.Data) != len(s.input) {
		return nil, apperrors.New(apperrors.KindInference, "predict",
			fmt.Sprintf("tensor shape %v (%d values), model expects %v", t.Shape, len(t.Data), s.Metadata.InputShape))
	}

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for inference session: %w", ctx.Err())
	}
	defer func() { <-s.lock }()

	copy(s.input, t.Data)
	if err := s.session.Run(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInference, "predict", "inference failed", err)
	}

	scores := make([]float32, len(s.output))
	copy(scores, s.output)

	for i, v := range scores {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, apperrors.New(apperrors.KindInference, "predict",
				fmt.Sprintf("non-finite score %v at index %d", v, i))
		}
	}
	return scores, nil
}

// Classify ranks a normalized tensor against the model's own label set.
func (s *Server) Classify(ctx context.Context, t Tensor) (RankedResult, error) {
	return Rank(ctx, t, s, s.Metadata.Classes)
}

func (s *Server) Close() {
	if s.session != nil {
		s.session.Destroy()
	}
	for _, fn := range s.cleanup {
		fn()
	}
}

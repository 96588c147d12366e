package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Brownie44l1/crop-disease-api/internal/errors"
)

// fakeSession writes input[i] * weight into output[i%len(output)] and flags
// any overlapping Run.
type fakeSession struct {
	input, output []float32
	active        int32
	overlaps      int32
	runs          int32
	delay         time.Duration
	err           error
}

func (f *fakeSession) Run() error {
	if atomic.AddInt32(&f.active, 1) > 1 {
		atomic.AddInt32(&f.overlaps, 1)
	}
	defer atomic.AddInt32(&f.active, -1)
	atomic.AddInt32(&f.runs, 1)

	if f.err != nil {
		return f.err
	}
	for i := range f.output {
		f.output[i] = 0
	}
	// read the first value slowly so a racing writer would be visible
	marker := f.input[0]
	time.Sleep(f.delay)
	for i := range f.output {
		f.output[i] = marker
	}
	return nil
}

func (f *fakeSession) Destroy() error { return nil }

func testMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, 4, 4, 1},
		OutputShape: []int64{1, 3},
		Classes:     LabelSet{"healthy", "blighted", "rusted"},
		ImageSize:   4,
		InputName:   "input",
		OutputName:  "output",
	}
}

func newFakeServer(delay time.Duration) (*Server, *fakeSession) {
	md := testMetadata()
	fs := &fakeSession{
		input:  make([]float32, md.InputSize()),
		output: make([]float32, 3),
		delay:  delay,
	}
	return newServer(md, fs, fs.input, fs.output), fs
}

func filled(v float32) Tensor {
	t := NewTensor(1, 4, 4, 1)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func TestServer_PredictCopiesOutput(t *testing.T) {
	srv, fs := newFakeServer(0)

	scores, err := srv.Predict(context.Background(), filled(0.5))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0.5}, scores)

	fs.output[0] = 99
	assert.Equal(t, float32(0.5), scores[0], "returned scores must not alias the bound tensor")
}

func TestServer_PredictRejectsWrongShape(t *testing.T) {
	srv, fs := newFakeServer(0)

	_, err := srv.Predict(context.Background(), NewTensor(1, 8, 8, 1))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInference))

	bad := NewTensor(1, 4, 4, 1)
	bad.Data = bad.Data[:3]
	_, err = srv.Predict(context.Background(), bad)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInference))

	assert.Zero(t, atomic.LoadInt32(&fs.runs))
}

func TestServer_RunFailureIsInferenceError(t *testing.T) {
	srv, fs := newFakeServer(0)
	fs.err = errors.New("onnxruntime: invalid argument")

	_, err := srv.Predict(context.Background(), filled(0.1))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInference))
}

func TestServer_NonFiniteScores(t *testing.T) {
	srv, _ := newFakeServer(0)
	zero := float32(0)

	_, err := srv.Predict(context.Background(), filled(zero/zero))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInference))
}

func TestServer_ConcurrentPredictIsSerialized(t *testing.T) {
	srv, fs := newFakeServer(200 * time.Microsecond)

	const workers = 16
	const perWorker = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			want := float32(w+1) / 100
			for i := 0; i < perWorker; i++ {
				scores, err := srv.Predict(context.Background(), filled(want))
				if err != nil {
					errs <- err
					return
				}
				for _, s := range scores {
					if s != want {
						errs <- errors.New("scores leaked from another request")
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Zero(t, atomic.LoadInt32(&fs.overlaps))
	assert.EqualValues(t, workers*perWorker, atomic.LoadInt32(&fs.runs))
}

func TestServer_PredictHonorsContextWhileWaiting(t *testing.T) {
	srv, _ := newFakeServer(0)
	srv.lock <- struct{}{} // hold the session

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := srv.Predict(ctx, filled(0.2))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServer_Classify(t *testing.T) {
	srv, _ := newFakeServer(0)

	result, err := srv.Classify(context.Background(), filled(0.3))
	require.NoError(t, err)
	assert.Len(t, result, 3)
	assert.Equal(t, srv.Labels(), LabelSet{"healthy", "blighted", "rusted"})
}

func writeMetadata(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadMetadata_Defaults(t *testing.T) {
	path := writeMetadata(t, `{"classes": ["Tomato___healthy", "Tomato___Late_blight"]}`)

	md, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 128, 128, 1}, md.InputShape)
	assert.Equal(t, []int64{1, 2}, md.OutputShape)
	assert.Equal(t, 128, md.ImageSize)
	assert.Equal(t, "input", md.InputName)
	assert.Equal(t, "output", md.OutputName)
	assert.Equal(t, 128*128, md.InputSize())
}

func TestLoadMetadata_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{classes`},
		{"no classes", `{"classes": []}`},
		{"duplicate class", `{"classes": ["rust", "rust"]}`},
		{"empty class", `{"classes": ["rust", ""]}`},
		{"color input", `{"classes": ["a"], "input_shape": [1, 128, 128, 3]}`},
		{"output mismatch", `{"classes": ["a", "b"], "output_shape": [1, 3]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMetadata(writeMetadata(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func stubEnvironment(t *testing.T, initialized bool) (inits, destroys *int) {
	t.Helper()
	inits, destroys = new(int), new(int)

	origIs, origInit, origDestroy := ortIsInitialized, ortInitEnvironment, ortDestroyEnvironment
	t.Cleanup(func() {
		ortIsInitialized, ortInitEnvironment, ortDestroyEnvironment = origIs, origInit, origDestroy
	})

	ortIsInitialized = func() bool { return initialized }
	ortInitEnvironment = func() error {
		*inits++
		return nil
	}
	ortDestroyEnvironment = func() error {
		*destroys++
		return nil
	}
	return inits, destroys
}

func TestAcquireEnvironment(t *testing.T) {
	t.Run("created here is destroyed on close", func(t *testing.T) {
		inits, destroys := stubEnvironment(t, false)

		release, err := acquireEnvironment()
		require.NoError(t, err)
		assert.Equal(t, 1, *inits)

		s, _ := newFakeServer(0)
		s.cleanup = []func() error{release}
		s.Close()
		assert.Equal(t, 1, *destroys)
	})

	t.Run("already running is left alone", func(t *testing.T) {
		inits, destroys := stubEnvironment(t, true)

		release, err := acquireEnvironment()
		require.NoError(t, err)
		assert.Zero(t, *inits)

		s, _ := newFakeServer(0)
		s.cleanup = []func() error{release}
		s.Close()
		assert.Zero(t, *destroys)
	})

	t.Run("init failure", func(t *testing.T) {
		stubEnvironment(t, false)
		ortInitEnvironment = func() error { return errors.New("no runtime library") }

		release, err := acquireEnvironment()
		require.Error(t, err)
		assert.Nil(t, release)
	})
}

package detection

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purepost/analysis-service/internal/imaging"
)

func testTensor(size int) *imaging.Tensor {
	return &imaging.Tensor{
		Data:   make([]float32, 3*size*size),
		Height: size,
		Width:  size,
	}
}

func TestClient_Classify_Success(t *testing.T) {
	var gotContentType string
	var gotFilename string
	var gotFileBytes []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/predict", r.URL.Path)

		gotContentType = r.Header.Get("Content-Type")

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		gotFilename = header.Filename
		gotFileBytes, err = io.ReadAll(file)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"predictions": [
				{"label": "real", "score": 0.93},
				{"label": "deepfake", "score": 0.07}
			],
			"processing_time": 0.042
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 8)

	scores, err := client.Classify(context.Background(), []byte("fake-jpeg-bytes"), testTensor(8))
	require.NoError(t, err)

	assert.Contains(t, gotContentType, "multipart/form-data")
	assert.Equal(t, "image.jpg", gotFilename)
	assert.Equal(t, []byte("fake-jpeg-bytes"), gotFileBytes)

	assert.Equal(t, []string{"real", "deepfake"}, scores.Labels)
	assert.Equal(t, []float64{0.93, 0.07}, scores.Scores)
	assert.Equal(t, 0.042, scores.ProcessingTime)
	assert.Contains(t, string(scores.Raw), `"predictions"`)
}

func TestClient_Classify_BackendFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "internal server error",
			status:  http.StatusInternalServerError,
			body:    `{"detail": "model exploded"}`,
			wantErr: ErrBackend,
		},
		{
			name:    "bad request",
			status:  http.StatusBadRequest,
			body:    `{"detail": "invalid file"}`,
			wantErr: ErrBackend,
		},
		{
			name:    "success false",
			status:  http.StatusOK,
			body:    `{"success": false, "predictions": []}`,
			wantErr: ErrBackend,
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `{not json`,
			wantErr: ErrBackend,
		},
		{
			name:    "empty predictions",
			status:  http.StatusOK,
			body:    `{"success": true, "predictions": []}`,
			wantErr: ErrEmptyResult,
		},
		{
			name:    "missing predictions",
			status:  http.StatusOK,
			body:    `{"success": true, "processing_time": 0.1}`,
			wantErr: ErrEmptyResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, 8)

			scores, err := client.Classify(context.Background(), []byte("img"), testTensor(8))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, scores)
		})
	}
}

func TestClient_Classify_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Classify(ctx, []byte("img"), testTensor(8))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_Classify_Unreachable(t *testing.T) {
	// Grab a port that nothing listens on.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client := NewClient(addr, 8)

	_, err := client.Classify(context.Background(), []byte("img"), testTensor(8))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestClient_Classify_ShapeContract(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(server.URL, 224)

	_, err := client.Classify(context.Background(), []byte("img"), testTensor(8))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
	assert.False(t, called, "a bad tensor must never reach the backend")
}

func TestClient_CheckHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    *Health
		wantErr bool
	}{
		{
			name:   "healthy",
			status: http.StatusOK,
			body:   `{"status": "healthy", "model_loaded": true, "model_exists": true}`,
			want:   &Health{Status: "healthy", ModelLoaded: true, ModelExists: true},
		},
		{
			name:   "unhealthy",
			status: http.StatusOK,
			body:   `{"status": "unhealthy", "model_loaded": false, "model_exists": true}`,
			want:   &Health{Status: "unhealthy", ModelLoaded: false, ModelExists: true},
		},
		{
			name:    "probe error",
			status:  http.StatusInternalServerError,
			body:    `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, 224)

			health, err := client.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, health)
		})
	}
}

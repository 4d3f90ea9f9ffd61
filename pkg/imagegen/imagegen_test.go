package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*SanaClient, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	client, err := New(Config{
		ServerURL:         srv.URL + "/",
		SavePath:          dir,
		PublicBaseURL:     "/images/",
		PromptStyleSuffix: ", watercolor",
	}, nil)
	require.NoError(t, err)
	client.newName = func() string { return "scene" }
	return client, dir
}

func TestSanaClient_Generate(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}
	client, dir := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)

		var req sanaAPIRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a dragon in a cave, watercolor", req.Prompt)
		assert.Equal(t, defaultRatio, req.Ratio)

		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpeg)
	})

	url, err := client.Generate(context.Background(), "a dragon in a cave")
	require.NoError(t, err)
	assert.Equal(t, "/images/scene.jpg", url)

	saved, err := os.ReadFile(filepath.Join(dir, "scene.jpg"))
	require.NoError(t, err)
	assert.Equal(t, jpeg, saved)
}

func TestSanaClient_Errors(t *testing.T) {
	client, dir := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("model is loading"))
	})

	_, err := client.Generate(context.Background(), "a dragon in a cave")
	assert.ErrorIs(t, err, ErrImageGenerationFailed)

	_, err = client.Generate(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrImageGenerationFailed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is saved on failure")
}

func TestSanaClient_EmptyBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.Generate(context.Background(), "a dragon in a cave")
	assert.ErrorIs(t, err, ErrImageGenerationFailed)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{SavePath: t.TempDir(), PublicBaseURL: "/images"}, nil)
	assert.Error(t, err)

	_, err = New(Config{ServerURL: "http://sana", PublicBaseURL: "/images"}, nil)
	assert.Error(t, err)

	_, err = New(Config{ServerURL: "http://sana", SavePath: t.TempDir()}, nil)
	assert.Error(t, err)
}

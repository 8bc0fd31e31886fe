package transcribe

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyscene/internal/model"
)

func TestMergePrompt(t *testing.T) {
	assert.Equal(t, "a fox", MergePrompt(" a fox ", ""))
	assert.Equal(t, "spoken words", MergePrompt("", " spoken words "))
	assert.Equal(t, "a fox in the snow", MergePrompt("a fox", "in the snow"))
	assert.Equal(t, "", MergePrompt(" ", " "))
}

func TestNewWhisperRequiresKey(t *testing.T) {
	_, err := NewWhisper("", "")
	assert.ErrorIs(t, err, model.ErrUnavailable)
}

func TestTranscribeMissingFile(t *testing.T) {
	w, err := NewWhisper("sk-test", "http://127.0.0.1:0")
	assert.NoError(t, err)
	_, err = w.Transcribe(t.Context(), "/definitely/not/here.wav")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF0000WAVEfmt "), 0o644))
	return path
}

func TestTranscribeVerboseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))

		f, fh, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "clip.wav", fh.Filename)
		body, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF0000WAVEfmt ", string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task":"transcribe","language":"english","duration":2.5,"text":"  a fox on the moon  "}`))
	}))
	defer srv.Close()

	w, err := NewWhisper("sk-test", srv.URL+"/v1")
	require.NoError(t, err)
	got, err := w.Transcribe(t.Context(), writeAudio(t))
	require.NoError(t, err)
	assert.Equal(t, Transcript{Text: "a fox on the moon", Language: "english", DurationSeconds: 2.5}, got)
}

func TestTranscribeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	w, err := NewWhisper("sk-test", srv.URL+"/v1")
	require.NoError(t, err)
	_, err = w.Transcribe(t.Context(), writeAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, model.KindProviderError, model.KindOf(err))
}

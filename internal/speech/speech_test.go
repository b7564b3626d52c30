package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/nyaya/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func speechServer(t *testing.T, conf float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transcribe":
			var in transcribeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, []byte{1, 2, 3}, in.Audio)
			_ = json.NewEncoder(w).Encode(Transcript{Text: " किरायेदार के अधिकार ", Confidence: conf})
		case "/synthesize":
			var in synthesizeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			_ = json.NewEncoder(w).Encode(synthesizeResponse{Audio: []byte(in.Language + ":" + in.Text)})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestHTTPTranscriber(t *testing.T) {
	srv := speechServer(t, 0.9)
	defer srv.Close()
	tr, err := NewHTTPTranscriber(remote.New(srv.URL), 0.6).Transcribe(context.Background(), []byte{1, 2, 3}, "hi")
	require.NoError(t, err)
	assert.Equal(t, "किरायेदार के अधिकार", tr.Text)
	assert.Equal(t, "hi", tr.Language)
}

func TestHTTPTranscriber_LowConfidence(t *testing.T) {
	srv := speechServer(t, 0.3)
	defer srv.Close()
	_, err := NewHTTPTranscriber(remote.New(srv.URL), 0.6).Transcribe(context.Background(), []byte{1, 2, 3}, "hi")
	assert.ErrorIs(t, err, ErrLowConfidence)
}

func TestCheck_EmptyText(t *testing.T) {
	_, err := Check(Transcript{Text: "  ", Confidence: 1}, "en", 0.5)
	assert.ErrorIs(t, err, ErrLowConfidence)
}

func TestHTTPSynthesizer(t *testing.T) {
	srv := speechServer(t, 1)
	defer srv.Close()
	audio, err := NewHTTPSynthesizer(remote.New(srv.URL)).Synthesize(context.Background(), "namaste", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi:namaste", string(audio))
}

package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVideoPrefetch(t *testing.T) {
	want := VideoPrefetchPayload{VideoID: "promo", URL: "https://cdn.example.com/promo.mp4", DisplayID: uuid.New()}
	body, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := DecodeVideoPrefetch(&Job{Type: JobTypeVideoPrefetch, Payload: body})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeVideoPrefetch_WrongType(t *testing.T) {
	_, err := DecodeVideoPrefetch(&Job{Type: "media_transcode", Payload: []byte(`{}`)})
	assert.ErrorContains(t, err, "unexpected job type")
}

func TestDecodeVideoPrefetch_BadPayload(t *testing.T) {
	_, err := DecodeVideoPrefetch(&Job{Type: JobTypeVideoPrefetch, Payload: []byte(`[`)})
	assert.Error(t, err)
}

func TestNewQueue_DefaultAttempts(t *testing.T) {
	assert.Equal(t, MaxRetries, NewQueue(nil, nil, 0).maxAttempts)
	assert.Equal(t, 5, NewQueue(nil, nil, 5).maxAttempts)
}

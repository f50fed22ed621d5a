package sse

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nonFlusher struct {
	http.ResponseWriter
}

func TestNewWriterRequiresFlusher(t *testing.T) {
	_, err := NewWriter(nonFlusher{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestWriterFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Comment("connected"))
	require.NoError(t, w.SendJSON(map[string]int{"progress": 10}))
	require.NoError(t, w.Send(Event{ID: "7", Name: "stats", Data: []byte("line1\nline2")}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.True(t, rec.Flushed)

	want := ": connected\n\n" +
		"data: {\"progress\":10}\n\n" +
		"id: 7\nevent: stats\ndata: line1\ndata: line2\n\n"
	assert.Equal(t, want, rec.Body.String())
}

func TestReaderRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)
	require.NoError(t, w.Comment("connected"))
	require.NoError(t, w.SendJSON(map[string]string{"status": "starting"}))
	require.NoError(t, w.Send(Event{Name: "stats", Data: []byte("a\nb")}))

	r := NewReader(strings.NewReader(rec.Body.String()))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"status":"starting"}`, string(ev.Data))

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "stats", ev.Name)
	assert.Equal(t, "a\nb", string(ev.Data))

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderHandlesCRLFAndTruncation(t *testing.T) {
	r := NewReader(strings.NewReader("data: one\r\n\r\ndata: two"))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", string(ev.Data))

	_, err = r.Next()
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

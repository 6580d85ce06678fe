package packmatic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteToMatchesNextLoop(t *testing.T) {
	t.Parallel()

	entries := func() []*Entry {
		return []*Entry{
			{Path: "a.txt", Source: Content([]byte("alpha"))},
			{Path: "b.txt", Source: Content([]byte("bravo bravo"))},
		}
	}

	m1 := testManifest(t, entries()...)
	enc1, err := NewEncoder(context.Background(), m1, WithArchiveID("fixed"))
	require.NoError(t, err)
	want := drain(t, enc1)

	m2 := testManifest(t, entries()...)
	enc2, err := NewEncoder(context.Background(), m2, WithArchiveID("fixed"))
	require.NoError(t, err)
	var got bytes.Buffer
	n, err := enc2.WriteTo(&got)
	require.NoError(t, err)

	assert.Equal(t, want, got.Bytes())
	assert.Equal(t, int64(len(want)), n)
}

func TestStreamReader(t *testing.T) {
	t.Parallel()

	var ended int
	handler := func(ev Event) Directive {
		if _, ok := ev.(StreamEnded); ok {
			ended++
		}
		return Continue()
	}

	m := testManifest(t, &Entry{Path: "a.txt", Source: Content([]byte("via reader"))})
	enc, err := NewEncoder(context.Background(), m, WithOnEvent(handler))
	require.NoError(t, err)

	r := enc.Reader()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	files := readArchive(t, data)
	assert.Equal(t, []byte("via reader"), files["a.txt"])
	assert.Equal(t, 1, ended, "StreamEnded fires exactly once")
}

func TestStreamReaderPropagatesHalt(t *testing.T) {
	t.Parallel()

	openErr := errors.New("boom")
	m := testManifest(t,
		&Entry{Path: "ok", Source: Content([]byte("fine"))},
		&Entry{Path: "bad", Source: failOpenSource{err: openErr}},
	)
	enc, err := NewEncoder(context.Background(), m)
	require.NoError(t, err)

	_, err = io.ReadAll(enc.Reader())
	require.ErrorIs(t, err, openErr)
}

// failWriter fails after a number of writes.
type failWriter struct {
	allow int
	err   error
}

func (w *failWriter) Write(p []byte) (int, error) {
	if w.allow <= 0 {
		return 0, w.err
	}
	w.allow--
	return len(p), nil
}

func TestWriteToSinkFailure(t *testing.T) {
	t.Parallel()

	sinkErr := errors.New("sink full")
	m := testManifest(t, &Entry{Path: "a", Source: Content([]byte("payload"))})
	enc, err := NewEncoder(context.Background(), m)
	require.NoError(t, err)

	_, err = enc.WriteTo(&failWriter{allow: 1, err: sinkErr})
	require.ErrorIs(t, err, sinkErr)
}

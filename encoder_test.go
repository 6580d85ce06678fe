package packmatic

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain drives the encoder until a terminal signal and returns the
// concatenated archive bytes.
func drain(t *testing.T, enc *Encoder) []byte {
	t.Helper()
	var out bytes.Buffer
	for {
		chunk, err := enc.Next()
		if err == io.EOF {
			return out.Bytes()
		}
		require.NoError(t, err)
		out.Write(chunk)
	}
}

// readArchive opens the produced bytes with the standard library reader and
// returns per-path contents.
func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[f.Name] = content
	}
	return files
}

func testManifest(t *testing.T, entries ...*Entry) *Manifest {
	t.Helper()
	m, err := NewManifest(entries...)
	require.NoError(t, err)
	return m
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	contents := map[string][]byte{
		"a.txt":        []byte("alpha alpha alpha alpha"),
		"dir/b.txt":    []byte("bravo"),
		"dir/empty.md": {},
	}

	for _, method := range []Method{MethodDeflate, MethodStore} {
		method := method
		t.Run(method.String(), func(t *testing.T) {
			t.Parallel()

			m := testManifest(t,
				&Entry{Path: "a.txt", Source: Content(contents["a.txt"])},
				&Entry{Path: "dir/b.txt", Source: Content(contents["dir/b.txt"])},
				&Entry{Path: "dir/empty.md", Source: Content(contents["dir/empty.md"])},
			)
			enc, err := NewEncoder(context.Background(), m, WithMethod(method))
			require.NoError(t, err)

			data := drain(t, enc)
			assert.Equal(t, uint64(len(data)), enc.BytesEmitted())

			files := readArchive(t, data)
			require.Len(t, files, 3)
			for path, want := range contents {
				assert.Equal(t, want, files[path], path)
			}
		})
	}
}

func TestOffsetsMatchEmittedBytes(t *testing.T) {
	t.Parallel()

	// Store method keeps entry data literal, so local header signatures
	// in the output can only be real headers.
	m := testManifest(t,
		&Entry{Path: "one", Source: Content([]byte("first entry body"))},
		&Entry{Path: "two", Source: Content([]byte("second"))},
		&Entry{Path: "three", Source: Content([]byte("third entry, the longest body here"))},
	)
	enc, err := NewEncoder(context.Background(), m, WithMethod(MethodStore))
	require.NoError(t, err)
	data := drain(t, enc)

	results := enc.Results()
	require.Len(t, results, 3)

	sig := []byte{0x50, 0x4b, 0x03, 0x04}
	var prev uint64
	for i, res := range results {
		require.True(t, res.Ok())
		assert.Equal(t, sig, data[res.Info.Offset:res.Info.Offset+4], "entry %d", i)
		if i > 0 {
			assert.Greater(t, res.Info.Offset, prev)
		}
		prev = res.Info.Offset
	}
	assert.Equal(t, uint64(0), results[0].Info.Offset)
}

func TestIncrementalChecksumAndSizes(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("0123456789abcdef"), 513) // > one 3-byte read
	m := testManifest(t, &Entry{Path: "data.bin", Source: Content(content)})

	enc, err := NewEncoder(context.Background(), m,
		WithMethod(MethodDeflate),
		WithReadBufferSize(3),
	)
	require.NoError(t, err)
	data := drain(t, enc)

	results := enc.Results()
	require.Len(t, results, 1)
	info := results[0].Info
	require.NotNil(t, info)

	assert.Equal(t, crc32.ChecksumIEEE(content), info.CRC32)
	assert.Equal(t, uint64(len(content)), info.Size)

	// The compressed bytes sit between the local header and the data
	// descriptor; inflating them must reproduce the content.
	headerLen := uint64(30 + len("data.bin"))
	start := info.Offset + headerLen
	compressed := data[start : start+info.CompressedSize]
	fr := flate.NewReader(bytes.NewReader(compressed))
	inflated, err := io.ReadAll(fr)
	require.NoError(t, err)
	require.NoError(t, fr.Close())
	assert.Equal(t, content, inflated)
}

func TestStoreSizeAccounting(t *testing.T) {
	t.Parallel()

	content := []byte("stored verbatim")
	m := testManifest(t, &Entry{Path: "s.txt", Source: Content(content)})
	enc, err := NewEncoder(context.Background(), m, WithMethod(MethodStore))
	require.NoError(t, err)
	drain(t, enc)

	info := enc.Results()[0].Info
	require.NotNil(t, info)
	assert.Equal(t, uint64(len(content)), info.Size)
	assert.Equal(t, info.Size, info.CompressedSize)
}

// failOpenSource fails at open time.
type failOpenSource struct {
	err error
}

func (s failOpenSource) Open(context.Context) (io.ReadCloser, error) {
	return nil, s.err
}

// trackedSource records whether it was ever opened.
type trackedSource struct {
	data   []byte
	opened *bool
}

func (s trackedSource) Open(context.Context) (io.ReadCloser, error) {
	*s.opened = true
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func TestSkipPolicy(t *testing.T) {
	t.Parallel()

	openErr := errors.New("no such object")
	m := testManifest(t,
		&Entry{Path: "first", Source: Content([]byte("one"))},
		&Entry{Path: "second", Source: failOpenSource{err: openErr}},
		&Entry{Path: "third", Source: Content([]byte("three"))},
	)
	enc, err := NewEncoder(context.Background(), m,
		WithMethod(MethodStore),
		WithOnError(ErrorPolicySkip),
	)
	require.NoError(t, err)
	data := drain(t, enc)

	results := enc.Results()
	require.Len(t, results, 3)
	assert.True(t, results[0].Ok())
	assert.False(t, results[1].Ok())
	assert.ErrorIs(t, results[1].Err, openErr)
	assert.True(t, results[2].Ok())
	assert.Equal(t, "second", results[1].Entry.Path)

	files := readArchive(t, data)
	require.Len(t, files, 2)
	assert.Equal(t, []byte("one"), files["first"])
	assert.Equal(t, []byte("three"), files["third"])
}

func TestHaltPolicy(t *testing.T) {
	t.Parallel()

	openErr := errors.New("no such object")
	thirdOpened := false
	m := testManifest(t,
		&Entry{Path: "first", Source: Content([]byte("one"))},
		&Entry{Path: "second", Source: failOpenSource{err: openErr}},
		&Entry{Path: "third", Source: trackedSource{data: []byte("three"), opened: &thirdOpened}},
	)
	enc, err := NewEncoder(context.Background(), m, WithOnError(ErrorPolicyHalt))
	require.NoError(t, err)

	var haltErr error
	for {
		_, err := enc.Next()
		if err != nil {
			haltErr = err
			break
		}
	}
	require.ErrorIs(t, haltErr, openErr)
	assert.False(t, thirdOpened)

	results := enc.Results()
	require.Len(t, results, 2)
	assert.True(t, results[0].Ok())
	assert.ErrorIs(t, results[1].Err, openErr)
}

// shortReader errors after serving its data.
type shortReader struct {
	data []byte
	err  error
	pos  int
}

func (r *shortReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, r.err
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *shortReader) Close() error { return nil }

func TestReadFailureHaltLeavesEntryUnrecorded(t *testing.T) {
	t.Parallel()

	readErr := errors.New("connection reset")
	m := testManifest(t,
		&Entry{Path: "ok", Source: Content([]byte("fine"))},
		&Entry{Path: "broken", Source: FuncSource(func(context.Context) (io.ReadCloser, error) {
			return &shortReader{data: []byte("partial"), err: readErr}, nil
		})},
	)
	enc, err := NewEncoder(context.Background(), m)
	require.NoError(t, err)

	var haltErr error
	for {
		_, err := enc.Next()
		if err != nil {
			haltErr = err
			break
		}
	}
	require.ErrorIs(t, haltErr, readErr)

	results := enc.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Entry.Path)
}

func TestReadFailureSkipContinues(t *testing.T) {
	t.Parallel()

	readErr := errors.New("connection reset")
	m := testManifest(t,
		&Entry{Path: "broken", Source: FuncSource(func(context.Context) (io.ReadCloser, error) {
			return &shortReader{data: []byte("partial"), err: readErr}, nil
		})},
		&Entry{Path: "after", Source: Content([]byte("still here"))},
	)
	enc, err := NewEncoder(context.Background(), m, WithOnError(ErrorPolicySkip))
	require.NoError(t, err)
	drain(t, enc)

	results := enc.Results()
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, readErr)
	assert.True(t, results[1].Ok())
}

func TestInjection(t *testing.T) {
	t.Parallel()

	var events []Event
	injected := false
	handler := func(ev Event) Directive {
		events = append(events, ev)
		if _, ok := ev.(EntryStarted); ok && !injected {
			injected = true
			return InjectEntry(&Entry{Path: "manifest.csv", Source: Content([]byte("path,ok\n"))})
		}
		return Continue()
	}

	m := testManifest(t,
		&Entry{Path: "one", Source: Content([]byte("1"))},
		&Entry{Path: "two", Source: Content([]byte("2"))},
	)
	enc, err := NewEncoder(context.Background(), m,
		WithMethod(MethodStore),
		WithOnEvent(handler),
	)
	require.NoError(t, err)
	data := drain(t, enc)

	results := enc.Results()
	require.Len(t, results, 3)
	assert.Equal(t, "one", results[0].Entry.Path)
	assert.Equal(t, "manifest.csv", results[1].Entry.Path)
	assert.Equal(t, "two", results[2].Entry.Path)

	files := readArchive(t, data)
	assert.Equal(t, []byte("path,ok\n"), files["manifest.csv"])
}

func TestRepeatedInjectionsStackAhead(t *testing.T) {
	t.Parallel()

	count := 0
	handler := func(ev Event) Directive {
		if _, ok := ev.(StreamStarted); ok {
			return Continue()
		}
		if _, ok := ev.(EntryStarted); ok && count < 2 {
			count++
			paths := []string{"inject-1", "inject-2"}
			return InjectEntry(&Entry{Path: paths[count-1], Source: Content(nil)})
		}
		return Continue()
	}

	m := testManifest(t,
		&Entry{Path: "base", Source: Content(nil)},
		&Entry{Path: "tail", Source: Content(nil)},
	)
	enc, err := NewEncoder(context.Background(), m, WithOnEvent(handler))
	require.NoError(t, err)
	drain(t, enc)

	var order []string
	for _, res := range enc.Results() {
		order = append(order, res.Entry.Path)
	}
	// inject-1 fires while base starts, inject-2 while inject-1 starts.
	assert.Equal(t, []string{"base", "inject-1", "inject-2", "tail"}, order)
}

// sparseReader yields empty reads before each data chunk.
type sparseReader struct {
	data    []byte
	pos     int
	skipped bool
}

func (r *sparseReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	if !r.skipped {
		r.skipped = true
		return 0, nil
	}
	r.skipped = false
	n := copy(p[:1], r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *sparseReader) Close() error { return nil }

func TestEmptyReadsAreSwallowed(t *testing.T) {
	t.Parallel()

	content := []byte("spaced out")
	m := testManifest(t, &Entry{Path: "sparse", Source: FuncSource(func(context.Context) (io.ReadCloser, error) {
		return &sparseReader{data: content}, nil
	})})
	enc, err := NewEncoder(context.Background(), m, WithMethod(MethodStore))
	require.NoError(t, err)

	var out bytes.Buffer
	for {
		chunk, err := enc.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.NotEmpty(t, chunk, "no spurious empty chunks for zero-length reads")
		out.Write(chunk)
	}

	files := readArchive(t, out.Bytes())
	assert.Equal(t, content, files["sparse"])
}

func TestTerminalSignalsAreStable(t *testing.T) {
	t.Parallel()

	t.Run("done", func(t *testing.T) {
		t.Parallel()
		m := testManifest(t, &Entry{Path: "x", Source: Content([]byte("x"))})
		enc, err := NewEncoder(context.Background(), m)
		require.NoError(t, err)
		drain(t, enc)

		for i := 0; i < 3; i++ {
			chunk, err := enc.Next()
			assert.Nil(t, chunk)
			assert.Equal(t, io.EOF, err)
		}
	})

	t.Run("halt", func(t *testing.T) {
		t.Parallel()
		openErr := errors.New("boom")
		m := testManifest(t, &Entry{Path: "x", Source: failOpenSource{err: openErr}})
		enc, err := NewEncoder(context.Background(), m)
		require.NoError(t, err)

		_, err = enc.Next()
		require.ErrorIs(t, err, openErr)
		for i := 0; i < 3; i++ {
			_, again := enc.Next()
			assert.Equal(t, err, again)
		}
	})
}

func TestHaltEmitsStreamEndedOnce(t *testing.T) {
	t.Parallel()

	var ended []StreamEnded
	handler := func(ev Event) Directive {
		if se, ok := ev.(StreamEnded); ok {
			ended = append(ended, se)
		}
		return Continue()
	}

	openErr := errors.New("boom")
	m := testManifest(t, &Entry{Path: "x", Source: failOpenSource{err: openErr}})
	enc, err := NewEncoder(context.Background(), m, WithOnEvent(handler))
	require.NoError(t, err)

	_, err = enc.Next()
	require.ErrorIs(t, err, openErr)
	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())

	require.Len(t, ended, 1)
	assert.ErrorIs(t, ended[0].Err, openErr)
}

func TestEventSequence(t *testing.T) {
	t.Parallel()

	var kinds []string
	handler := func(ev Event) Directive {
		switch ev.(type) {
		case StreamStarted:
			kinds = append(kinds, "stream_started")
		case EntryStarted:
			kinds = append(kinds, "entry_started")
		case EntryUpdated:
			kinds = append(kinds, "entry_updated")
		case EntryCompleted:
			kinds = append(kinds, "entry_completed")
		case StreamEnded:
			kinds = append(kinds, "stream_ended")
		}
		return Continue()
	}

	m := testManifest(t, &Entry{Path: "f", Source: Content([]byte("payload"))})
	enc, err := NewEncoder(context.Background(), m, WithOnEvent(handler), WithArchiveID("test-stream"))
	require.NoError(t, err)

	var sink bytes.Buffer
	_, err = enc.WriteTo(&sink)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"stream_started",
		"entry_started",
		"entry_updated",
		"entry_completed",
		"stream_ended",
	}, kinds)
	assert.Equal(t, "test-stream", enc.ArchiveID())
}

func TestInvalidDirectiveIsFatal(t *testing.T) {
	t.Parallel()

	t.Run("at start", func(t *testing.T) {
		t.Parallel()
		m := testManifest(t, &Entry{Path: "x", Source: Content(nil)})
		_, err := NewEncoder(context.Background(), m, WithOnEvent(func(Event) Directive {
			return nil
		}))
		require.ErrorIs(t, err, ErrInvalidDirective)
	})

	t.Run("mid stream", func(t *testing.T) {
		t.Parallel()
		m := testManifest(t, &Entry{Path: "x", Source: Content([]byte("x"))})
		enc, err := NewEncoder(context.Background(), m, WithOnEvent(func(ev Event) Directive {
			if _, ok := ev.(EntryStarted); ok {
				return nil
			}
			return Continue()
		}))
		require.NoError(t, err)

		var haltErr error
		for {
			_, err := enc.Next()
			if err != nil {
				haltErr = err
				break
			}
		}
		require.ErrorIs(t, haltErr, ErrInvalidDirective)
	})
}

func TestContextCancellationHalts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	m := testManifest(t,
		&Entry{Path: "a", Source: Content([]byte("aaa"))},
		&Entry{Path: "b", Source: Content([]byte("bbb"))},
	)
	enc, err := NewEncoder(ctx, m)
	require.NoError(t, err)

	_, err = enc.Next()
	require.NoError(t, err)

	cancel()
	_, err = enc.Next()
	require.ErrorIs(t, err, context.Canceled)
}

func TestInvalidManifestRejected(t *testing.T) {
	t.Parallel()

	m, merr := NewManifest(&Entry{Path: "/abs", Source: Content(nil)})
	require.Error(t, merr)

	_, err := NewEncoder(context.Background(), m)
	require.Error(t, err)

	var manifestErr *ManifestError
	require.ErrorAs(t, err, &manifestErr)
	assert.Len(t, manifestErr.Problems, 1)
}

func TestGeneratedArchiveID(t *testing.T) {
	t.Parallel()

	m := testManifest(t, &Entry{Path: "x", Source: Content(nil)})
	enc, err := NewEncoder(context.Background(), m)
	require.NoError(t, err)
	assert.NotEmpty(t, enc.ArchiveID())
}

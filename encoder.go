package packmatic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/dmkl/packmatic/internal/field"
)

// defaultReadBufferSize is the per-chunk source read size.
const defaultReadBufferSize = 32 * 1024

// Method identifies the compression method applied to entry data. Values
// are the ZIP method codes.
type Method uint16

const (
	MethodStore   Method = 0
	MethodDeflate Method = 8
)

func (m Method) String() string {
	switch m {
	case MethodStore:
		return "store"
	case MethodDeflate:
		return "deflate"
	default:
		return "unknown"
	}
}

// ErrorPolicy controls how per-entry open and read failures are handled.
type ErrorPolicy uint8

const (
	// ErrorPolicyHalt terminates the whole stream on the first entry
	// failure. This is the default.
	ErrorPolicyHalt ErrorPolicy = iota

	// ErrorPolicySkip records the failed entry and continues with the
	// next one.
	ErrorPolicySkip
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicyHalt:
		return "halt"
	case ErrorPolicySkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Encoder produces a ZIP64 archive byte stream from a manifest, one chunk
// per Next call. It is single-threaded and exclusively owned by the driving
// loop; no call may overlap another.
type Encoder struct {
	ctx       context.Context
	archiveID string
	method    Method
	onError   ErrorPolicy
	onEvent   Handler
	bufSize   int

	remaining    []*Entry
	current      *activeEntry
	bytesEmitted uint64
	encoded      []EntryResult

	comp    *flate.Writer
	compBuf bytes.Buffer
	readBuf []byte

	done  bool
	err   error
	ended bool // StreamEnded has fired
}

// activeEntry is the entry presently being read.
type activeEntry struct {
	entry   *Entry
	src     io.ReadCloser
	info    *EntryInfo
	eof     bool
	readErr error
}

// NewEncoder starts an encoding job for a validated manifest. It emits
// StreamStarted before returning. An invalid or nil manifest is rejected
// with the manifest's own validation error.
func NewEncoder(ctx context.Context, manifest *Manifest, opts ...EncoderOption) (*Encoder, error) {
	if manifest == nil {
		return nil, errors.New("packmatic: nil manifest")
	}
	if !manifest.Valid() {
		return nil, manifest.err
	}

	e := &Encoder{
		ctx:       ctx,
		method:    MethodDeflate,
		onError:   ErrorPolicyHalt,
		bufSize:   defaultReadBufferSize,
		remaining: manifest.Entries(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.archiveID == "" {
		e.archiveID = newArchiveID()
	}
	e.readBuf = make([]byte, e.bufSize)

	if err := e.emit(StreamStarted{ArchiveID: e.archiveID, EntriesTotal: len(e.remaining)}); err != nil {
		return nil, err
	}
	return e, nil
}

// ArchiveID returns the stream identifier echoed in every event.
func (e *Encoder) ArchiveID() string { return e.archiveID }

// BytesEmitted returns the total archive bytes produced so far.
func (e *Encoder) BytesEmitted() uint64 { return e.bytesEmitted }

// Results returns the per-entry outcomes accumulated so far, in processing
// order.
func (e *Encoder) Results() []EntryResult {
	return append([]EntryResult(nil), e.encoded...)
}

// Next produces the next chunk of archive bytes. It returns a (possibly
// empty) chunk with a nil error while the stream continues, io.EOF once the
// archive is complete, and any other error when the stream halts. After a
// terminal return, further calls return the same terminal signal.
//
// The returned chunk is owned by the caller.
func (e *Encoder) Next() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.done {
		return nil, io.EOF
	}
	if err := e.ctx.Err(); err != nil {
		return nil, e.halt(err)
	}

	for {
		switch {
		case e.current != nil:
			chunk, yielded, err := e.stepCurrent()
			if err != nil {
				return nil, err
			}
			if !yielded {
				// Zero-length source read, re-poll without
				// yielding a spurious empty chunk.
				continue
			}
			return chunk, nil
		case len(e.remaining) > 0:
			return e.startEntry()
		default:
			return e.finishStream()
		}
	}
}

// Close releases the compressor and any open entry source, and emits
// StreamEnded if it has not fired yet. Drivers abandoning the stream before
// a terminal Next result must call Close; calling it after io.EOF or a halt
// is safe. Idempotent.
func (e *Encoder) Close() error {
	if e.current != nil {
		e.current.src.Close()
		e.current = nil
	}
	e.comp = nil
	if !e.ended {
		e.ended = true
		if e.onEvent != nil {
			e.onEvent(StreamEnded{ArchiveID: e.archiveID, Err: e.err, BytesEmitted: e.bytesEmitted})
		}
	}
	return nil
}

// startEntry pops the queue head, opens its source and emits its local
// header.
func (e *Encoder) startEntry() ([]byte, error) {
	entry := e.remaining[0]
	e.remaining = e.remaining[1:]

	src, err := entry.Source.Open(e.ctx)
	if err != nil {
		return e.openFailed(entry, fmt.Errorf("open %s: %w", entry.Path, err))
	}
	if err := e.ensureCompressor(); err != nil {
		src.Close()
		return nil, e.halt(fmt.Errorf("compressor: %w", err))
	}

	info := &EntryInfo{Offset: e.bytesEmitted}
	header := field.LocalFileHeader{
		Path:     entry.Path,
		Method:   uint16(e.method),
		Modified: entry.Modified,
	}.Encode()
	e.bytesEmitted += uint64(len(header))
	e.current = &activeEntry{entry: entry, src: src, info: info}

	if err := e.emit(EntryStarted{ArchiveID: e.archiveID, Entry: entry}); err != nil {
		return nil, e.fatal(err)
	}
	return header, nil
}

// openFailed applies the error policy to a source that could not be opened.
// The failure is recorded under both policies.
func (e *Encoder) openFailed(entry *Entry, err error) ([]byte, error) {
	e.encoded = append(e.encoded, EntryResult{Entry: entry, Err: err})
	if emitErr := e.emit(EntryFailed{ArchiveID: e.archiveID, Entry: entry, Err: err}); emitErr != nil {
		return nil, e.fatal(emitErr)
	}
	if e.onError == ErrorPolicySkip {
		return nil, nil
	}
	return nil, e.halt(err)
}

// stepCurrent advances the entry in progress by one source read. yielded is
// false when a zero-length read was swallowed.
func (e *Encoder) stepCurrent() (chunk []byte, yielded bool, err error) {
	cur := e.current
	if cur.readErr != nil {
		return e.readFailed(cur.readErr)
	}
	if cur.eof {
		chunk, err := e.finishEntry()
		return chunk, true, err
	}

	n, rerr := cur.src.Read(e.readBuf)
	if n > 0 {
		raw := e.readBuf[:n]
		out, cerr := e.compress(raw)
		if cerr != nil {
			return nil, false, e.halt(fmt.Errorf("compressor: %w", cerr))
		}
		cur.info.Size += uint64(n)
		cur.info.CRC32 = crc32.Update(cur.info.CRC32, crc32.IEEETable, raw)
		cur.info.CompressedSize += uint64(len(out))
		e.bytesEmitted += uint64(len(out))
		switch rerr {
		case nil:
		case io.EOF:
			cur.eof = true
		default:
			// Surface the failure on the next step, after the
			// bytes read alongside it have been accounted.
			cur.readErr = rerr
		}
		if emitErr := e.emit(EntryUpdated{
			ArchiveID:    e.archiveID,
			Entry:        cur.entry,
			BytesRead:    cur.info.Size,
			BytesEmitted: e.bytesEmitted,
		}); emitErr != nil {
			return nil, false, e.fatal(emitErr)
		}
		return out, true, nil
	}

	switch rerr {
	case nil:
		return nil, false, nil
	case io.EOF:
		chunk, err := e.finishEntry()
		return chunk, true, err
	default:
		return e.readFailed(rerr)
	}
}

// readFailed applies the error policy to a source that errored mid-stream.
// Under halt the entry is not recorded; only the failure events fire.
func (e *Encoder) readFailed(rerr error) ([]byte, bool, error) {
	cur := e.current
	cur.src.Close()
	e.current = nil
	entry := cur.entry
	err := fmt.Errorf("read %s: %w", entry.Path, rerr)

	if e.onError == ErrorPolicySkip {
		e.encoded = append(e.encoded, EntryResult{Entry: entry, Err: err})
		if emitErr := e.emit(EntryFailed{ArchiveID: e.archiveID, Entry: entry, Err: err}); emitErr != nil {
			return nil, false, e.fatal(emitErr)
		}
		return nil, true, nil
	}
	if emitErr := e.emit(EntryFailed{ArchiveID: e.archiveID, Entry: entry, Err: err}); emitErr != nil {
		return nil, false, e.fatal(emitErr)
	}
	return nil, false, e.halt(err)
}

// finishEntry finalizes the compressor for the current entry, freezes its
// info and emits the trailing compressed bytes plus the data descriptor.
func (e *Encoder) finishEntry() ([]byte, error) {
	cur := e.current
	tail, err := e.finishCompressor()
	if err != nil {
		return nil, e.halt(fmt.Errorf("compressor: %w", err))
	}
	cur.info.CompressedSize += uint64(len(tail))
	e.bytesEmitted += uint64(len(tail))

	zip64 := cur.info.Size >= field.Uint32Max || cur.info.CompressedSize >= field.Uint32Max
	desc := field.DataDescriptor{
		CRC32:          cur.info.CRC32,
		CompressedSize: cur.info.CompressedSize,
		OriginalSize:   cur.info.Size,
		Zip64:          zip64,
	}.Encode()
	e.bytesEmitted += uint64(len(desc))

	cur.src.Close()
	e.current = nil
	e.encoded = append(e.encoded, EntryResult{Entry: cur.entry, Info: cur.info})

	if emitErr := e.emit(EntryCompleted{ArchiveID: e.archiveID, Entry: cur.entry}); emitErr != nil {
		return nil, e.fatal(emitErr)
	}
	return append(tail, desc...), nil
}

// finishStream emits the central directory and archive trailer as the final
// chunk and marks the stream done. The success-path StreamEnded event is
// the driver's responsibility, via Close.
func (e *Encoder) finishStream() ([]byte, error) {
	e.comp = nil
	start := e.bytesEmitted

	var dir []byte
	var count uint64
	for _, res := range e.encoded {
		if !res.Ok() {
			continue
		}
		count++
		dir = append(dir, field.CentralFileHeader{
			Path:           res.Entry.Path,
			Method:         uint16(e.method),
			Modified:       res.Entry.Modified,
			CRC32:          res.Info.CRC32,
			CompressedSize: res.Info.CompressedSize,
			OriginalSize:   res.Info.Size,
			HeaderOffset:   res.Info.Offset,
		}.Encode()...)
	}
	trailer := append(dir, field.EndOfCentralDir{
		Entries:         count,
		CentralDirSize:  uint64(len(dir)),
		CentralDirStart: start,
	}.Encode()...)

	e.bytesEmitted += uint64(len(trailer))
	e.done = true
	return trailer, nil
}

// halt terminates the stream with err, emitting StreamEnded once.
func (e *Encoder) halt(err error) error {
	if e.current != nil {
		e.current.src.Close()
		e.current = nil
	}
	e.comp = nil
	e.err = err
	if !e.ended {
		e.ended = true
		if e.onEvent != nil {
			// Directives are ignored at stream end.
			e.onEvent(StreamEnded{ArchiveID: e.archiveID, Err: err, BytesEmitted: e.bytesEmitted})
		}
	}
	return err
}

// fatal terminates the stream on a handler contract violation without
// re-entering the handler.
func (e *Encoder) fatal(err error) error {
	if e.current != nil {
		e.current.src.Close()
		e.current = nil
	}
	e.comp = nil
	e.err = err
	e.ended = true
	return err
}

// emit delivers an event to the configured handler and applies the
// returned directive. A nil handler makes this a no-op.
func (e *Encoder) emit(ev Event) error {
	if e.onEvent == nil {
		return nil
	}
	switch d := e.onEvent(ev).(type) {
	case continueDirective:
		return nil
	case injectDirective:
		return e.inject(d.entry)
	default:
		return ErrInvalidDirective
	}
}

// inject prepends entry to the pending queue so it is processed next.
// Reached only through the injection directive.
func (e *Encoder) inject(entry *Entry) error {
	if err := validateEntry(entry, map[string]struct{}{}); err != nil {
		return fmt.Errorf("packmatic: injected entry: %w", err)
	}
	e.remaining = append([]*Entry{entry}, e.remaining...)
	return nil
}

// ensureCompressor lazily opens the shared raw-deflate writer, or resets it
// for the next entry. Store-mode entries never touch it.
func (e *Encoder) ensureCompressor() error {
	if e.method != MethodDeflate {
		return nil
	}
	if e.comp == nil {
		w, err := flate.NewWriter(&e.compBuf, flate.DefaultCompression)
		if err != nil {
			return err
		}
		e.comp = w
		return nil
	}
	e.comp.Reset(&e.compBuf)
	return nil
}

// compress feeds raw through the compressor and returns whatever output it
// produced, which may be empty while the compressor buffers.
func (e *Encoder) compress(raw []byte) ([]byte, error) {
	if e.method != MethodDeflate {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}
	if _, err := e.comp.Write(raw); err != nil {
		return nil, err
	}
	return e.drainCompressed(), nil
}

// finishCompressor flushes the compressor's trailing bytes for the current
// entry. Called exactly once per deflate entry, before its descriptor is
// built.
func (e *Encoder) finishCompressor() ([]byte, error) {
	if e.method != MethodDeflate {
		return nil, nil
	}
	if err := e.comp.Close(); err != nil {
		return nil, err
	}
	return e.drainCompressed(), nil
}

func (e *Encoder) drainCompressed() []byte {
	if e.compBuf.Len() == 0 {
		return nil
	}
	out := make([]byte, e.compBuf.Len())
	copy(out, e.compBuf.Bytes())
	e.compBuf.Reset()
	return out
}

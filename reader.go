package packmatic

import "io"

// WriteTo drives the encoder to completion, forwarding every chunk to w.
// It returns the number of bytes written and performs stream-end cleanup
// via Close regardless of outcome, so the success-path StreamEnded event
// fires here.
func (e *Encoder) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for {
		chunk, err := e.Next()
		if err == io.EOF {
			return written, e.Close()
		}
		if err != nil {
			e.Close()
			return written, err
		}
		if len(chunk) == 0 {
			continue
		}
		n, werr := w.Write(chunk)
		written += int64(n)
		if werr != nil {
			e.Close()
			return written, werr
		}
	}
}

// Reader adapts the encoder to io.ReadCloser for drivers that consume the
// archive as a plain byte stream.
func (e *Encoder) Reader() *StreamReader {
	return &StreamReader{enc: e}
}

// StreamReader pulls encoder chunks on demand. Reaching io.EOF or a stream
// error closes the encoder, so StreamEnded fires without an explicit Close.
type StreamReader struct {
	enc     *Encoder
	pending []byte
	err     error
}

func (r *StreamReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		chunk, err := r.enc.Next()
		if err != nil {
			r.err = err
			r.enc.Close()
			return 0, err
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Close releases encoder resources; safe to call at any point, including
// after the stream has ended.
func (r *StreamReader) Close() error {
	return r.enc.Close()
}

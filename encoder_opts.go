package packmatic

import "github.com/google/uuid"

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithArchiveID sets the stream identifier echoed in every event. A random
// UUID is generated when unset.
func WithArchiveID(id string) EncoderOption {
	return func(e *Encoder) {
		e.archiveID = id
	}
}

// WithOnError sets the per-entry error policy. The default is
// ErrorPolicyHalt.
func WithOnError(policy ErrorPolicy) EncoderOption {
	return func(e *Encoder) {
		e.onError = policy
	}
}

// WithOnEvent sets the lifecycle event handler. Without one, emission is a
// no-op.
func WithOnEvent(handler Handler) EncoderOption {
	return func(e *Encoder) {
		e.onEvent = handler
	}
}

// WithMethod sets the compression method. The default is MethodDeflate.
func WithMethod(method Method) EncoderOption {
	return func(e *Encoder) {
		e.method = method
	}
}

// WithReadBufferSize sets the per-chunk source read size in bytes. Values
// below 1 are ignored. The default is 32 KiB.
func WithReadBufferSize(n int) EncoderOption {
	return func(e *Encoder) {
		if n > 0 {
			e.bufSize = n
		}
	}
}

func newArchiveID() string {
	return uuid.NewString()
}

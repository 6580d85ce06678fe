package packmatic

// Event is a stream or entry lifecycle notification delivered to the
// configured [Handler]. The set of events is closed.
type Event interface {
	event()
}

// StreamStarted fires once, when the encoder is constructed.
type StreamStarted struct {
	ArchiveID    string
	EntriesTotal int
}

// StreamEnded fires once, when the stream terminates. Err is nil for a
// normal end and carries the fatal error for a halt.
type StreamEnded struct {
	ArchiveID    string
	Err          error
	BytesEmitted uint64
}

// EntryStarted fires when an entry's local header has been emitted.
type EntryStarted struct {
	ArchiveID string
	Entry     *Entry
}

// EntryUpdated fires after every chunk processed for the current entry.
type EntryUpdated struct {
	ArchiveID string
	Entry     *Entry

	// BytesRead is the uncompressed bytes read from the entry's source
	// so far; BytesEmitted is the cumulative archive bytes produced.
	BytesRead    uint64
	BytesEmitted uint64
}

// EntryCompleted fires when an entry's data descriptor has been emitted.
type EntryCompleted struct {
	ArchiveID string
	Entry     *Entry
}

// EntryFailed fires when an entry could not be opened or read, under either
// error policy.
type EntryFailed struct {
	ArchiveID string
	Entry     *Entry
	Err       error
}

func (StreamStarted) event()  {}
func (StreamEnded) event()    {}
func (EntryStarted) event()   {}
func (EntryUpdated) event()   {}
func (EntryCompleted) event() {}
func (EntryFailed) event()    {}

// Handler observes lifecycle events and returns a directive telling the
// encoder how to proceed. Handlers are invoked synchronously between
// encoding steps and must return either [Continue] or [InjectEntry]; any
// other value (including nil) terminates the stream with
// [ErrInvalidDirective].
type Handler func(Event) Directive

// Directive is the closed set of commands a Handler may return.
type Directive interface {
	directive()
}

type continueDirective struct{}

type injectDirective struct {
	entry *Entry
}

func (continueDirective) directive() {}
func (injectDirective) directive()   {}

// Continue tells the encoder to proceed unchanged.
func Continue() Directive {
	return continueDirective{}
}

// InjectEntry tells the encoder to prepend entry to the pending queue, so
// it is processed as the very next entry once the current one finishes.
// Repeated injections stack in reverse-injection order ahead of the
// original remainder. This is the sole sanctioned way to extend the
// manifest mid-stream.
func InjectEntry(entry *Entry) Directive {
	return injectDirective{entry: entry}
}

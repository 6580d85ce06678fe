package packmatic

import "time"

// Entry identifies one archive member: the path it will have inside the
// archive and the source its bytes come from. Entries are immutable once
// handed to an encoder.
type Entry struct {
	// Path is the member path inside the archive, slash-separated and
	// relative ("docs/readme.md").
	Path string

	// Source produces the entry's bytes when the encoder reaches it.
	Source SourceSpec

	// Modified is the member modification time written to the archive
	// headers. The zero value maps to the MS-DOS epoch.
	Modified time.Time
}

// EntryInfo accumulates one entry's offset, sizes and checksum while its
// bytes are streamed. Values are frozen once the entry's end of data is
// reached.
type EntryInfo struct {
	// Offset is the position in the output stream at which the entry's
	// local header began. Set once when the header is emitted.
	Offset uint64

	// Size is the total uncompressed bytes read from the source so far.
	Size uint64

	// CompressedSize is the total bytes emitted for the entry's data,
	// header and descriptor excluded.
	CompressedSize uint64

	// CRC32 is the running IEEE CRC-32 over the uncompressed bytes.
	CRC32 uint32
}

// EntryResult pairs an entry with its encoding outcome. Info is set when
// the entry completed; Err is set when it failed.
type EntryResult struct {
	Entry *Entry
	Info  *EntryInfo
	Err   error
}

// Ok reports whether the entry was encoded successfully.
func (r EntryResult) Ok() bool { return r.Err == nil }

// Package field encodes the fixed binary records of the ZIP64 format.
//
// All records are little-endian per APPNOTE.TXT. Encoders are pure: they
// never fail for well-formed input and perform no I/O.
package field

import (
	"encoding/binary"
	"time"
)

// Record signatures. All begin with the two byte marker "PK".
const (
	LocalFileHeaderSignature      uint32 = 0x04034b50
	DataDescriptorSignature       uint32 = 0x08074b50 // de-facto standard; required by OS X Finder
	CentralDirectorySignature     uint32 = 0x02014b50
	EndOfCentralDirSignature      uint32 = 0x06054b50
	Zip64EndOfCentralDirSignature uint32 = 0x06064b50
	Zip64EndOfCentralDirLocator   uint32 = 0x07064b50
)

const (
	// Zip64ExtraTag identifies the Zip64 extended information extra field.
	Zip64ExtraTag uint16 = 0x0001

	// zipVersion45 marks archives that require ZIP64 support (4.5).
	zipVersion45 = 45

	// flagDataDescriptor signals that sizes and CRC follow the entry data
	// in a data descriptor. flagUTF8 marks the filename as UTF-8.
	flagDataDescriptor uint16 = 0x0008
	flagUTF8           uint16 = 0x0800

	// Uint32Max is the sentinel written to 32-bit size/offset fields when
	// the real value lives in the Zip64 extra field.
	Uint32Max = (1 << 32) - 1
	uint16max = (1 << 16) - 1
)

// Zip64Extra is the Zip64 extended information extra field carried by every
// central directory header this encoder produces. The 28-byte payload holds
// the full-width sizes and local header offset; the disk number is always 0.
type Zip64Extra struct {
	OriginalSize   uint64
	CompressedSize uint64
	HeaderOffset   uint64
}

// Encode returns the 32-byte tag+size header plus payload.
func (z Zip64Extra) Encode() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint16(buf[0:2], Zip64ExtraTag)
	binary.LittleEndian.PutUint16(buf[2:4], 28)
	binary.LittleEndian.PutUint64(buf[4:12], z.OriginalSize)
	binary.LittleEndian.PutUint64(buf[12:20], z.CompressedSize)
	binary.LittleEndian.PutUint64(buf[20:28], z.HeaderOffset)
	binary.LittleEndian.PutUint32(buf[28:32], 0)
	return buf
}

// LocalFileHeader is the per-entry header written before the entry data.
//
// Because this encoder streams, the CRC and size fields are written as the
// zero placeholder and the data descriptor flag is set; real values follow
// the entry data in a DataDescriptor.
type LocalFileHeader struct {
	Path     string
	Method   uint16
	Modified time.Time
}

func (h LocalFileHeader) Encode() []byte {
	name := truncPath(h.Path)
	buf := make([]byte, 30+len(name))
	dosDate, dosTime := msdosTime(h.Modified)

	binary.LittleEndian.PutUint32(buf[0:4], LocalFileHeaderSignature)
	binary.LittleEndian.PutUint16(buf[4:6], zipVersion45)
	binary.LittleEndian.PutUint16(buf[6:8], flagDataDescriptor|flagUTF8)
	binary.LittleEndian.PutUint16(buf[8:10], h.Method)
	binary.LittleEndian.PutUint16(buf[10:12], dosTime)
	binary.LittleEndian.PutUint16(buf[12:14], dosDate)
	// CRC-32, compressed size, uncompressed size: placeholders, the data
	// descriptor carries the real values.
	binary.LittleEndian.PutUint32(buf[14:18], 0)
	binary.LittleEndian.PutUint32(buf[18:22], 0)
	binary.LittleEndian.PutUint32(buf[22:26], 0)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(name)))
	binary.LittleEndian.PutUint16(buf[28:30], 0)
	copy(buf[30:], name)

	return buf
}

// DataDescriptor trails each entry's data with the finalized CRC and sizes.
// When Zip64 is set the size fields are 8 bytes wide instead of 4.
type DataDescriptor struct {
	CRC32          uint32
	CompressedSize uint64
	OriginalSize   uint64
	Zip64          bool
}

func (d DataDescriptor) Encode() []byte {
	if d.Zip64 {
		buf := make([]byte, 24)
		binary.LittleEndian.PutUint32(buf[0:4], DataDescriptorSignature)
		binary.LittleEndian.PutUint32(buf[4:8], d.CRC32)
		binary.LittleEndian.PutUint64(buf[8:16], d.CompressedSize)
		binary.LittleEndian.PutUint64(buf[16:24], d.OriginalSize)
		return buf
	}
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], DataDescriptorSignature)
	binary.LittleEndian.PutUint32(buf[4:8], d.CRC32)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(d.CompressedSize))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(d.OriginalSize))
	return buf
}

// CentralFileHeader is one central directory record. Size, offset and disk
// fields hold sentinels; readers recover the real values from the mandatory
// Zip64 extra field.
type CentralFileHeader struct {
	Path           string
	Method         uint16
	Modified       time.Time
	CRC32          uint32
	CompressedSize uint64
	OriginalSize   uint64
	HeaderOffset   uint64
}

func (h CentralFileHeader) Encode() []byte {
	name := truncPath(h.Path)
	extra := Zip64Extra{
		OriginalSize:   h.OriginalSize,
		CompressedSize: h.CompressedSize,
		HeaderOffset:   h.HeaderOffset,
	}.Encode()
	buf := make([]byte, 46+len(name)+len(extra))
	dosDate, dosTime := msdosTime(h.Modified)

	binary.LittleEndian.PutUint32(buf[0:4], CentralDirectorySignature)
	binary.LittleEndian.PutUint16(buf[4:6], zipVersion45)
	binary.LittleEndian.PutUint16(buf[6:8], zipVersion45)
	binary.LittleEndian.PutUint16(buf[8:10], flagDataDescriptor|flagUTF8)
	binary.LittleEndian.PutUint16(buf[10:12], h.Method)
	binary.LittleEndian.PutUint16(buf[12:14], dosTime)
	binary.LittleEndian.PutUint16(buf[14:16], dosDate)
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], Uint32Max)
	binary.LittleEndian.PutUint32(buf[24:28], Uint32Max)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(name)))
	binary.LittleEndian.PutUint16(buf[30:32], uint16(len(extra)))
	binary.LittleEndian.PutUint16(buf[32:34], 0)         // comment length
	binary.LittleEndian.PutUint16(buf[34:36], uint16max) // disk number start
	binary.LittleEndian.PutUint16(buf[36:38], 0)         // internal attributes
	binary.LittleEndian.PutUint32(buf[38:42], 0)         // external attributes
	binary.LittleEndian.PutUint32(buf[42:46], Uint32Max) // local header offset

	n := 46
	n += copy(buf[n:], name)
	copy(buf[n:], extra)

	return buf
}

// EndOfCentralDir assembles the archive trailer: the Zip64 end of central
// directory record, its locator, and the classic end record with sentinel
// fields pointing readers at the Zip64 records.
type EndOfCentralDir struct {
	Entries         uint64
	CentralDirSize  uint64
	CentralDirStart uint64
}

func (e EndOfCentralDir) Encode() []byte {
	buf := make([]byte, 56+20+22)

	// Zip64 end of central directory record.
	binary.LittleEndian.PutUint32(buf[0:4], Zip64EndOfCentralDirSignature)
	binary.LittleEndian.PutUint64(buf[4:12], 44) // size of remaining record
	binary.LittleEndian.PutUint16(buf[12:14], zipVersion45)
	binary.LittleEndian.PutUint16(buf[14:16], zipVersion45)
	binary.LittleEndian.PutUint32(buf[16:20], 0)
	binary.LittleEndian.PutUint32(buf[20:24], 0)
	binary.LittleEndian.PutUint64(buf[24:32], e.Entries)
	binary.LittleEndian.PutUint64(buf[32:40], e.Entries)
	binary.LittleEndian.PutUint64(buf[40:48], e.CentralDirSize)
	binary.LittleEndian.PutUint64(buf[48:56], e.CentralDirStart)

	// Zip64 end of central directory locator.
	loc := buf[56:]
	binary.LittleEndian.PutUint32(loc[0:4], Zip64EndOfCentralDirLocator)
	binary.LittleEndian.PutUint32(loc[4:8], 0)
	binary.LittleEndian.PutUint64(loc[8:16], e.CentralDirStart+e.CentralDirSize)
	binary.LittleEndian.PutUint32(loc[16:20], 1)

	// Classic end of central directory record, all sentinels.
	end := buf[76:]
	binary.LittleEndian.PutUint32(end[0:4], EndOfCentralDirSignature)
	binary.LittleEndian.PutUint16(end[4:6], 0)
	binary.LittleEndian.PutUint16(end[6:8], 0)
	binary.LittleEndian.PutUint16(end[8:10], uint16max)
	binary.LittleEndian.PutUint16(end[10:12], uint16max)
	binary.LittleEndian.PutUint32(end[12:16], Uint32Max)
	binary.LittleEndian.PutUint32(end[16:20], Uint32Max)
	binary.LittleEndian.PutUint16(end[20:22], 0)

	return buf
}

// msdosTime converts t to MS-DOS date and time fields. The zero time maps
// to the MS-DOS epoch (1980-01-01).
func msdosTime(t time.Time) (dosDate, dosTime uint16) {
	if t.IsZero() || t.Year() < 1980 {
		return 0x21, 0
	}
	dosDate = uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	dosTime = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	return dosDate, dosTime
}

// truncPath bounds a path to the 16-bit filename length field. Manifest
// validation rejects longer paths before encoding begins.
func truncPath(p string) string {
	if len(p) > uint16max {
		return p[:uint16max]
	}
	return p
}

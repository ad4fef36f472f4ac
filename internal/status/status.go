// Package status implements afrd's shared-memory status block, a small
// mmap'd record a running daemon keeps up to date and any number of
// short-lived CLI invocations can read without talking to the daemon
// over its control socket. Ported from shmem.c and the afrd_shmem_t
// layout implied by its callers in afrd.c.
package status

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Record is the fixed-layout status block written to shared memory,
// mirroring afrd_shmem_t. Every multi-byte field is written little
// endian so the layout is stable regardless of host byte order.
type Record struct {
	Size uint32

	VerMajor uint32
	VerMinor uint32
	VerMicro uint32
	BDate    [32]byte
	VerSfx   [16]byte

	Enabled    bool
	Switched   bool
	Blackened  bool
	_          [5]byte // padding to keep Hz fields 4-byte aligned
	CurrentHz  int32
	OriginalHz int32

	CRC32     uint32
	CRC32Copy uint32
}

// recordSize is the wire size of Record, computed field-by-field rather
// than via unsafe.Sizeof so the layout stays independent of host
// alignment rules.
const recordSize = 4 + 4 + 4 + 4 + 32 + 16 + 1 + 1 + 1 + 5 + 4 + 4 + 4 + 4

// path returns afrd.ipc next to pidfile, matching shmem_init's
// "dirname(pidfile)/afrd.ipc" convention.
func path(pidfile string) string {
	return filepath.Join(filepath.Dir(pidfile), "afrd.ipc")
}

// Writer is the daemon-side handle: it owns the shared memory file,
// mmap'd for read/write, and removes it on Close.
type Writer struct {
	path string
	file *os.File
	mem  []byte
	last Record
}

// OpenWriter creates (or truncates) the status file next to pidfile and
// mmaps it read/write, matching shmem_init(read=false).
func OpenWriter(pidfile string) (*Writer, error) {
	p := path(pidfile)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, errors.Wrap(err, "status: creating shared memory directory")
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "status: opening %s", p)
	}
	if err := f.Truncate(recordSize); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "status: truncating shared memory file")
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, recordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "status: mmap")
	}

	return &Writer{path: p, file: f, mem: mem}, nil
}

// Update encodes rec (stamping its CRC32 fields) and writes it to the
// mapped memory, matching shmem_update. The CRC32 covers every field
// except the two CRC32 fields themselves, duplicated so a reader can
// detect a torn read (the primary and copy disagree) independent of
// verifying the checksum itself.
func (w *Writer) Update(rec Record) error {
	rec.Size = recordSize
	buf := make([]byte, recordSize)
	encode(buf, rec)

	sum := crc32.ChecksumIEEE(buf[:recordSize-8])
	binary.LittleEndian.PutUint32(buf[recordSize-8:], sum)
	binary.LittleEndian.PutUint32(buf[recordSize-4:], sum)

	copy(w.mem, buf)
	rec.CRC32, rec.CRC32Copy = sum, sum
	w.last = rec
	return unix.Msync(w.mem, unix.MS_SYNC)
}

// Last returns the most recently written record, including the CRC32
// stamped by Update, for callers like the API socket's "status" command
// that need the same snapshot without re-reading the mmap.
func (w *Writer) Last() Record {
	return w.last
}

// Close invalidates the block for any reader still holding it open (by
// zeroing Size and bumping CRC32 so a stale reader's checksum can never
// match again), unmaps it, and removes the backing file, matching
// shmem_fini.
func (w *Writer) Close() error {
	if w.mem != nil {
		binary.LittleEndian.PutUint32(w.mem[0:4], 0)
		cur := binary.LittleEndian.Uint32(w.mem[recordSize-8:])
		binary.LittleEndian.PutUint32(w.mem[recordSize-8:], cur+1)
		unix.Msync(w.mem, unix.MS_SYNC)
		unix.Munmap(w.mem)
		w.mem = nil
	}
	err := w.file.Close()
	os.Remove(w.path)
	return err
}

// Reader is the CLI-side handle: a read-only mmap of an existing status
// file, matching shmem_init(read=true)/shmem_read.
type Reader struct {
	mem []byte
}

// OpenReader mmaps the status file next to pidfile read-only.
func OpenReader(pidfile string) (*Reader, error) {
	p := path(pidfile)
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "status: opening %s", p)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), 0, recordSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "status: mmap")
	}
	return &Reader{mem: mem}, nil
}

// Read decodes the current record, verifying the duplicated CRC32 and
// recomputed checksum, matching shmem_read. A false ok means either a
// torn read (the daemon is mid-Update) or a stale/closed writer — the
// caller should just retry later.
func (r *Reader) Read() (rec Record, ok bool) {
	rec = decode(r.mem)
	if rec.Size != recordSize {
		return Record{}, false
	}
	if rec.CRC32 != rec.CRC32Copy {
		return Record{}, false
	}

	buf := make([]byte, recordSize)
	encode(buf, rec)
	sum := crc32.ChecksumIEEE(buf[:recordSize-8])
	if sum != rec.CRC32 {
		return Record{}, false
	}
	return rec, true
}

// Close unmaps the reader's view.
func (r *Reader) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

func encode(buf []byte, rec Record) {
	off := 0
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	put32(rec.Size)
	put32(rec.VerMajor)
	put32(rec.VerMinor)
	put32(rec.VerMicro)
	copy(buf[off:off+32], rec.BDate[:])
	off += 32
	copy(buf[off:off+16], rec.VerSfx[:])
	off += 16
	buf[off] = boolByte(rec.Enabled)
	buf[off+1] = boolByte(rec.Switched)
	buf[off+2] = boolByte(rec.Blackened)
	off += 3 + 5 // skip padding
	binary.LittleEndian.PutUint32(buf[off:], uint32(rec.CurrentHz))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(rec.OriginalHz))
	off += 4
	put32(rec.CRC32)
	put32(rec.CRC32Copy)
}

func decode(buf []byte) Record {
	var rec Record
	off := 0
	get32 := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		return v
	}
	rec.Size = get32()
	rec.VerMajor = get32()
	rec.VerMinor = get32()
	rec.VerMicro = get32()
	copy(rec.BDate[:], buf[off:off+32])
	off += 32
	copy(rec.VerSfx[:], buf[off:off+16])
	off += 16
	rec.Enabled = buf[off] != 0
	rec.Switched = buf[off+1] != 0
	rec.Blackened = buf[off+2] != 0
	off += 3 + 5
	rec.CurrentHz = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	rec.OriginalHz = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	rec.CRC32 = get32()
	rec.CRC32Copy = get32()
	return rec
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

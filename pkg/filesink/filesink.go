// Package filesink writes incoming file-data to a backing file, tracks a
// cached file-position hint to avoid redundant seeks, and serves the
// bounded re-read used by Class-2 CRC verification.
//
// Actual file I/O is delegated to a FileSystem and the Files it opens:
// narrow interfaces (open/rename/remove, and Read/Write/Seek/Close)
// rather than the concrete os.File type, so tests can substitute an
// in-memory fake.
package filesink

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/xid"

	"github.com/cfdp-go/receiver/pkg/metrics"
)

// File is the minimal handle the sink operates on.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// FileSystem is the external collaborator that turns names into Files.
type FileSystem interface {
	OpenCreate(name string) (File, error)
	Open(name string) (File, error)
	Rename(oldName, newName string) error
	Remove(name string) error
}

// OSFileSystem is the production FileSystem, backed by the local disk.
type OSFileSystem struct {
	// Dir is the root directory all names are resolved under.
	Dir string
}

func (fs OSFileSystem) path(name string) string {
	if fs.Dir == "" {
		return name
	}
	return fs.Dir + string(os.PathSeparator) + name
}

func (fs OSFileSystem) OpenCreate(name string) (File, error) {
	return os.OpenFile(fs.path(name), os.O_RDWR|os.O_CREATE, 0o644)
}

func (fs OSFileSystem) Open(name string) (File, error) {
	return os.OpenFile(fs.path(name), os.O_RDWR, 0o644)
}

func (fs OSFileSystem) Rename(oldName, newName string) error {
	return os.Rename(fs.path(oldName), fs.path(newName))
}

func (fs OSFileSystem) Remove(name string) error {
	return os.Remove(fs.path(name))
}

// Sink is the per-transaction file sink. It is not safe for concurrent
// use; the owning transaction is always single-threaded.
type Sink struct {
	fs       FileSystem
	counters *metrics.Counters
	chanNum  int

	file      File
	name      string
	temporary bool

	cachedPos uint64
	fileSize  uint64
}

// New creates a sink bound to fs and the metrics/channel context used to
// bump I/O fault counters.
func New(fs FileSystem, chanNum int, counters *metrics.Counters) *Sink {
	return &Sink{fs: fs, chanNum: chanNum, counters: counters}
}

// TempName derives a temporary destination-file name from transaction
// identity. The trailing xid suffix disambiguates a retried transaction
// from any stale temp file a prior attempt with the same identity left
// behind.
func TempName(entityID uint64, sequenceNumber uint32) string {
	return fmt.Sprintf("cfdp-%d-%d-%s.part", entityID, sequenceNumber, xid.New().String())
}

// OpenCreateTemp opens (creating if needed) a temporary backing file.
func (s *Sink) OpenCreateTemp(name string) error {
	return s.openCreate(name, true)
}

// OpenCreateFinal opens (creating if needed) a backing file already known
// under its final destination name, with no rename expected later (the
// Class-1 path, where the destination name is known before Init runs).
func (s *Sink) OpenCreateFinal(name string) error {
	return s.openCreate(name, false)
}

func (s *Sink) openCreate(name string, temporary bool) error {
	f, err := s.fs.OpenCreate(name)
	if err != nil {
		s.counters.Fault(s.chanNum, metrics.FaultFileOpen)
		return err
	}
	s.file = f
	s.name = name
	s.temporary = temporary
	s.cachedPos = 0
	return nil
}

// IsTemporary reports whether the sink is still backed by a temp file
// awaiting the metadata-triggered rename.
func (s *Sink) IsTemporary() bool { return s.temporary }

// RenameError wraps a failure to move the temporary file to its
// destination name, distinct from a subsequent reopen failure.
type RenameError struct{ Err error }

func (e *RenameError) Error() string { return "filesink: rename: " + e.Err.Error() }
func (e *RenameError) Unwrap() error { return e.Err }

// Rename moves the temporary file to its declared destination name and
// reopens it. Writes complete synchronously, so nothing is buffered
// ahead of the rename.
func (s *Sink) Rename(destName string) error {
	if err := s.fs.Rename(s.name, destName); err != nil {
		return &RenameError{Err: err}
	}
	_ = s.file.Close()

	f, err := s.fs.Open(destName)
	if err != nil {
		s.counters.Fault(s.chanNum, metrics.FaultFileOpen)
		return err
	}
	s.file = f
	s.name = destName
	s.temporary = false
	s.cachedPos = 0
	return nil
}

// FileSize returns the current known file size.
func (s *Sink) FileSize() uint64 { return s.fileSize }

// SetFileSize overrides the known size, used when metadata or EOF report
// a size ahead of what has actually been written.
func (s *Sink) SetFileSize(n uint64) { s.fileSize = n }

// CachedPos returns the last known file-write/read offset.
func (s *Sink) CachedPos() uint64 { return s.cachedPos }

// SeekError wraps a failure to reposition the backing file. The caller
// (internal/recv) distinguishes a file-data write's seek failure from a
// CRC chunk read's seek failure by which Sink method it called, not by
// inspecting this type further.
type SeekError struct{ Err error }

func (e *SeekError) Error() string { return "filesink: seek: " + e.Err.Error() }
func (e *SeekError) Unwrap() error { return e.Err }

// WriteError wraps a short or failed write.
type WriteError struct{ Err error }

func (e *WriteError) Error() string { return "filesink: write: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

// ReadError wraps a failed read.
type ReadError struct{ Err error }

func (e *ReadError) Error() string { return "filesink: read: " + e.Err.Error() }
func (e *ReadError) Unwrap() error { return e.Err }

// ensurePos seeks only if the cached position hint disagrees with
// offset.
func (s *Sink) ensurePos(offset uint64) error {
	if offset == s.cachedPos {
		return nil
	}
	_, err := s.file.Seek(int64(offset), io.SeekStart)
	if err != nil {
		s.counters.Fault(s.chanNum, metrics.FaultFileSeek)
		return &SeekError{Err: err}
	}
	s.cachedPos = offset
	return nil
}

// WriteFileData writes a file-data PDU's payload at its declared offset
// and updates the known file size.
func (s *Sink) WriteFileData(offset uint64, data []byte) error {
	if s.file == nil {
		s.counters.Fault(s.chanNum, metrics.FaultFileWrite)
		return &WriteError{Err: os.ErrClosed}
	}
	if err := s.ensurePos(offset); err != nil {
		return err
	}
	n, err := s.file.Write(data)
	if err != nil || n != len(data) {
		s.counters.Fault(s.chanNum, metrics.FaultFileWrite)
		if err == nil {
			err = io.ErrShortWrite
		}
		return &WriteError{Err: err}
	}
	s.cachedPos = offset + uint64(n)
	if s.cachedPos > s.fileSize {
		s.fileSize = s.cachedPos
	}
	s.counters.AddFileDataBytes(s.chanNum, uint64(n))
	return nil
}

// ReadChunk seeks to offset if needed and reads up to len(buf) bytes,
// returning the number of bytes actually read. Used by the chunked
// Class-2 CRC verification.
func (s *Sink) ReadChunk(offset uint64, buf []byte) (int, error) {
	if s.file == nil {
		s.counters.Fault(s.chanNum, metrics.FaultFileRead)
		return 0, &ReadError{Err: os.ErrClosed}
	}
	if err := s.ensurePos(offset); err != nil {
		return 0, err
	}
	n, err := s.file.Read(buf)
	if err != nil && err != io.EOF {
		s.counters.Fault(s.chanNum, metrics.FaultFileRead)
		return n, &ReadError{Err: err}
	}
	s.cachedPos += uint64(n)
	return n, nil
}

// Close closes the backing file, removing it unless keep is true.
func (s *Sink) Close(keep bool) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	if !keep {
		_ = s.fs.Remove(s.name)
	}
	s.file = nil
	return err
}

// Package store implements the paged segment/chunk allocator: a
// memory-mapped file of fixed-size physical segments, a logical-to-physical
// lookup per segment kind (array pages, buffer pages), a background queue
// that defers physical segment reuse so in-flight readers can detect it,
// and a size-classed chunk allocator with garbage recycling.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"invidx/internal/format"
	"invidx/internal/logging"
)

// Size constants mirror the original engine's tunables. SegmentSize is the
// unit a logical array or buffer segment occupies; ChunkSize is the largest
// size-classed chunk before allocation switches to bitmap-tracked extents.
const (
	SegmentSize         = 1 << 18 // 256 KiB
	ChunkSize           = 1 << 16 // S_CHUNK, 64 KiB
	LeastChunkShift     = 12      // W_LEAST_CHUNK: smallest class is 4 KiB
	LeastChunkSize      = 1 << LeastChunkShift
	NumChunkClasses     = 16 - LeastChunkShift + 1 // classes from 4 KiB..64 KiB
	MaxPhysicalSegments = 0x20000
	ChunkSplitThreshold = 0x60000
	garbageRecycleMin   = 4 // N_GARBAGES_TH equivalent: prefer garbage once a class holds more than this
	bgqDepth            = 16
)

// NotAssigned marks a logical segment with no physical segment behind it.
const NotAssigned = ^uint32(0)

var (
	ErrNoMemory     = errors.New("store: no memory")
	ErrFileCorrupt  = errors.New("store: file corrupt")
	ErrIO           = errors.New("store: io error")
	ErrInvalidSize  = errors.New("store: invalid chunk size")
	ErrSegmentReuse = errors.New("store: physical segment was reused")
)

const (
	headerType    = 'x' // distinct from the teacher's index-file type codes
	headerVersion = 1

	instanceIDOffset = format.HeaderSize
	instanceIDSize   = 16 // UUID is a fixed 16-byte value
	dataOffset       = instanceIDOffset + instanceIDSize
)

// Store owns one memory-mapped file holding every physical segment plus the
// allocator bookkeeping (logical->physical maps, background queue,
// size-classed chunk free lists, garbage rings). It is not safe for
// concurrent writers; spec.md's concurrency model is single-writer,
// many-reader (see internal/buffer and internal/cursor for the reader side
// of that contract).
type Store struct {
	mu sync.Mutex

	path string
	file *os.File
	data []byte // mmap'd region, grown by remapping as pnext advances

	InstanceID uuid.UUID

	ainfo map[uint32]uint32 // logical array segment -> physical segment
	binfo map[uint32]uint32 // logical buffer segment -> physical segment

	bgq      [bgqDepth]uint32
	bgqHead  int
	bgqCount int

	pnext uint32 // next unused physical segment index

	classes [NumChunkClasses]chunkClass
	large   largeChunkArena

	chunkFile *os.File
	chunkData []byte // mmap'd chunk payload arena, grown on demand

	totalChunkSize uint64

	logger *slog.Logger
}

type chunkClass struct {
	frontier uint32 // next unused offset within this class's extent, in class-size units
	garbage  []uint32
}

// Config controls how a Store is opened.
type Config struct {
	Path   string
	Logger *slog.Logger
}

// Create initializes a new store file at cfg.Path, truncating any existing
// content, and memory-maps an initial region sized for InitialSegments
// physical segments.
func Create(cfg Config, initialSegments int) (*Store, error) {
	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: create %s: %w", cfg.Path, err)
	}
	size := dataOffset + initialSegments*SegmentSize
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: truncate: %w", err)
	}
	s, err := mapStore(f, size, cfg.Logger)
	if err != nil {
		return nil, err
	}
	s.path = cfg.Path
	s.InstanceID = uuid.New()
	hdr := format.Header{Type: headerType, Version: headerVersion}
	hdr.EncodeInto(s.data)
	idBytes, _ := s.InstanceID.MarshalBinary()
	copy(s.data[instanceIDOffset:dataOffset], idBytes)
	if err := s.openChunkArena(true); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// chunkPath is where a store's variable-size chunk payload arena lives: a
// sibling file next to the segment file, mirroring the teacher's convention
// of one physical file per logical concern (chunk/file.Manager keeps
// raw.log and attr.log side by side rather than interleaved).
func chunkPath(segmentPath string) string {
	return segmentPath + ".chunks"
}

func (s *Store) openChunkArena(create bool) error {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(chunkPath(s.path), flags, 0o644)
	if err != nil {
		return fmt.Errorf("store: open chunk arena: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("store: stat chunk arena: %w", err)
	}
	size := int(info.Size())
	if size == 0 {
		size = LeastChunkSize
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return fmt.Errorf("store: truncate chunk arena: %w", err)
		}
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("store: mmap chunk arena: %w", err)
	}
	s.chunkFile = f
	s.chunkData = data
	return nil
}

// Open memory-maps an existing store file.
func Open(cfg Config) (*Store, error) {
	f, err := os.OpenFile(cfg.Path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat: %w", err)
	}
	s, err := mapStore(f, int(info.Size()), cfg.Logger)
	if err != nil {
		return nil, err
	}
	s.path = cfg.Path
	if _, err := format.DecodeAndValidate(s.data, headerType, headerVersion); err != nil {
		s.Close()
		return nil, fmt.Errorf("store: %s: %w", cfg.Path, errors.Join(ErrFileCorrupt, err))
	}
	if err := s.InstanceID.UnmarshalBinary(s.data[instanceIDOffset:dataOffset]); err != nil {
		s.Close()
		return nil, fmt.Errorf("store: %s: %w", cfg.Path, errors.Join(ErrFileCorrupt, err))
	}
	if err := s.openChunkArena(false); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func mapStore(f *os.File, size int, logger *slog.Logger) (*Store, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: mmap: %w", err)
	}
	logger = logging.Default(logger)
	return &Store{
		file:   f,
		data:   data,
		ainfo:  make(map[uint32]uint32),
		binfo:  make(map[uint32]uint32),
		logger: logger.With("component", "store"),
	}, nil
}

// Close unmaps and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.data != nil {
		if e := syscall.Munmap(s.data); e != nil {
			err = e
		}
		s.data = nil
	}
	if s.file != nil {
		if e := s.file.Close(); e != nil && err == nil {
			err = e
		}
		s.file = nil
	}
	if s.chunkData != nil {
		if e := syscall.Munmap(s.chunkData); e != nil && err == nil {
			err = e
		}
		s.chunkData = nil
	}
	if s.chunkFile != nil {
		if e := s.chunkFile.Close(); e != nil && err == nil {
			err = e
		}
		s.chunkFile = nil
	}
	return err
}

// growChunkArena extends the chunk payload file to cover at least need
// bytes.
func (s *Store) growChunkArena(need int) error {
	if need <= len(s.chunkData) {
		return nil
	}
	newSize := len(s.chunkData)
	if newSize == 0 {
		newSize = LeastChunkSize
	}
	for newSize < need {
		newSize *= 2
	}
	if err := syscall.Munmap(s.chunkData); err != nil {
		return fmt.Errorf("store: munmap chunk arena during grow: %w", err)
	}
	if err := s.chunkFile.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("store: truncate chunk arena during grow: %w", err)
	}
	data, err := syscall.Mmap(int(s.chunkFile.Fd()), 0, newSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("store: remap chunk arena during grow: %w", err)
	}
	s.chunkData = data
	return nil
}

// grow extends the mapped file to cover at least n physical segments.
func (s *Store) grow(n uint32) error {
	need := dataOffset + int(n)*SegmentSize
	if need <= len(s.data) {
		return nil
	}
	if err := syscall.Munmap(s.data); err != nil {
		return fmt.Errorf("store: munmap during grow: %w", err)
	}
	if err := s.file.Truncate(int64(need)); err != nil {
		return fmt.Errorf("store: truncate during grow: %w", err)
	}
	data, err := syscall.Mmap(int(s.file.Fd()), 0, need, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("store: remap during grow: %w", err)
	}
	s.data = data
	return nil
}

// Segment returns the byte region backing physical segment pseg.
func (s *Store) Segment(pseg uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmentLocked(pseg)
}

func (s *Store) segmentLocked(pseg uint32) ([]byte, error) {
	if pseg >= MaxPhysicalSegments {
		return nil, fmt.Errorf("store: physical segment %d out of range: %w", pseg, ErrInvalidSize)
	}
	if err := s.grow(pseg + 1); err != nil {
		return nil, err
	}
	off := dataOffset + int(pseg)*SegmentSize
	return s.data[off : off+SegmentSize], nil
}

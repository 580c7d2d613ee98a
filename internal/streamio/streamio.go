// Package streamio implements the shared read/seek substrate every
// container reader builds on: a mutex-guarded cursor over an arbitrary
// io.ReadSeeker, bounded sub-views into it, and an AES-128-CTR decrypting
// view with the Nintendo IV convention.
//
// Grounded on nx-archive's io.rs (SharedReader/SubFile/Aes128CtrReader).
package streamio

import (
	"io"
	"sync"

	"github.com/ryouvc/nxfs/internal/cryptoutil"
	"github.com/ryouvc/nxfs/internal/nxerr"
)

// SharedCursor wraps an io.ReadSeeker so that independently-positioned
// views (SubStream, CtrStream, or plain Seek+Read callers) can interleave
// safely. ReadAt is the single exclusion point: every read seeks under the
// lock, reads, and releases, so no caller ever observes another's partial
// seek.
type SharedCursor struct {
	mu sync.Mutex
	r  io.ReadSeeker
}

// NewSharedCursor wraps r for concurrent bounded access.
func NewSharedCursor(r io.ReadSeeker) *SharedCursor {
	return &SharedCursor{r: r}
}

// ReadAt reads len(buf) bytes starting at off, seeking the underlying
// reader under the cursor's lock.
func (c *SharedCursor) ReadAt(buf []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.r.Seek(off, io.SeekStart); err != nil {
		return 0, nxerr.Wrap(nxerr.KindIO, err, "seek to offset %d", off)
	}
	return io.ReadFull(c.r, buf)
}

// SubStream is an io.ReadSeeker bounded to [start, end) of a SharedCursor.
// Multiple SubStreams over one SharedCursor may be read concurrently; each
// keeps its own position and only the cursor's ReadAt is shared.
type SubStream struct {
	cursor   *SharedCursor
	start    int64
	end      int64
	position int64
}

// NewSubStream returns a view of cursor bounded to [start, end).
func NewSubStream(cursor *SharedCursor, start, end int64) *SubStream {
	return &SubStream{cursor: cursor, start: start, end: end}
}

// Size reports the bounded length of the view.
func (s *SubStream) Size() int64 { return s.end - s.start }

func (s *SubStream) Read(buf []byte) (int, error) {
	remaining := s.end - s.start - s.position
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	n, err := s.cursor.ReadAt(buf, s.start+s.position)
	s.position += int64(n)
	if err != nil && err != io.EOF {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *SubStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.position + offset
	case io.SeekEnd:
		target = (s.end - s.start) + offset
	default:
		return 0, nxerr.New(nxerr.KindInvalidArgument, "invalid whence %d", whence)
	}
	if target < 0 || target > s.end-s.start {
		return 0, nxerr.New(nxerr.KindInvalidArgument, "seek to %d out of bounds [0,%d]", target, s.end-s.start)
	}
	s.position = target
	return s.position, nil
}

// CursorView is an unbounded io.ReadSeeker over a SharedCursor, used where
// a caller needs absolute-offset semantics (CtrStream's IV derivation)
// rather than a window's relative positioning.
type CursorView struct {
	cursor   *SharedCursor
	position int64
}

// NewCursorView returns an unbounded absolute-offset view of cursor.
func NewCursorView(cursor *SharedCursor) *CursorView {
	return &CursorView{cursor: cursor}
}

func (v *CursorView) Read(buf []byte) (int, error) {
	n, err := v.cursor.ReadAt(buf, v.position)
	v.position += int64(n)
	return n, err
}

func (v *CursorView) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		v.position = offset
	case io.SeekCurrent:
		v.position += offset
	default:
		return 0, nxerr.New(nxerr.KindUnsupported, "CursorView does not support whence %d", whence)
	}
	return v.position, nil
}

func alignDown(v, align int64) int64 { return v &^ (align - 1) }
func alignUp(v, align int) int       { return (v + int(align) - 1) &^ (int(align) - 1) }

// CtrStream is an io.ReadSeeker decrypting AES-128-CTR over a ReadSeeker
// whose positions are absolute file offsets (a CursorView; a SubStream's
// window-relative positions would yield the wrong IV), using the Nintendo
// IV convention: ctr forms the high 8 bytes, the absolute byte offset
// right-shifted by 4 forms the low 8 bytes,
// both big-endian. Reads are always 16-byte aligned internally regardless
// of the caller's buffer size or offset.
type CtrStream struct {
	base       io.ReadSeeker
	baseOffset int64
	size       int64 // 0 means unbounded
	offset     int64
	ctrHi      uint64
	key        []byte
}

// NewCtrStream builds a decrypting view over base, seeking it to
// baseOffset. ctrHi is the section's 8-byte counter prefix, already
// interpreted as a big-endian uint64 (pkg/nca builds it from the FS
// header's SecureValue and Generation fields). key must be 16 bytes. size bounds how many bytes may be read
// starting at baseOffset; 0 leaves the view unbounded (reads run until
// base's own EOF).
func NewCtrStream(base io.ReadSeeker, baseOffset int64, size int64, ctrHi uint64, key []byte) (*CtrStream, error) {
	if len(key) != 16 {
		return nil, nxerr.New(nxerr.KindCrypto, "CTR key must be 16 bytes, got %d", len(key))
	}
	if _, err := base.Seek(baseOffset, io.SeekStart); err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "seek to base offset %d", baseOffset)
	}
	return &CtrStream{base: base, baseOffset: baseOffset, size: size, offset: baseOffset, ctrHi: ctrHi, key: key}, nil
}

func (s *CtrStream) Read(buf []byte) (int, error) {
	if s.size > 0 {
		remaining := s.size - (s.offset - s.baseOffset)
		if remaining <= 0 {
			return 0, io.EOF
		}
		if int64(len(buf)) > remaining {
			buf = buf[:remaining]
		}
	}

	if _, err := s.base.Seek(s.offset, io.SeekStart); err != nil {
		return 0, nxerr.Wrap(nxerr.KindIO, err, "seek during CTR read")
	}

	aligned := alignDown(s.offset, 16)
	diff := int(s.offset - aligned)
	rawSize := len(buf) + diff
	readSize := alignUp(rawSize, 16)

	if _, err := s.base.Seek(aligned, io.SeekStart); err != nil {
		return 0, nxerr.Wrap(nxerr.KindIO, err, "seek to aligned offset")
	}

	raw := make([]byte, readSize)
	n, err := io.ReadFull(s.base, raw)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, nxerr.Wrap(nxerr.KindIO, err, "read CTR-aligned chunk")
	}
	raw = raw[:n]

	stream, cerr := cryptoutil.NewCTRStream(s.key, ivFor(s.ctrHi), aligned)
	if cerr != nil {
		return 0, cerr
	}
	stream.XORKeyStream(raw, raw)

	available := len(raw) - diff
	if available <= 0 {
		return 0, io.EOF
	}
	want := len(buf)
	if want > available {
		want = available
	}
	copy(buf[:want], raw[diff:diff+want])

	s.offset += int64(want)
	if want < len(buf) {
		return want, io.EOF
	}
	return want, nil
}

func (s *CtrStream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.offset = s.baseOffset + offset
	case io.SeekCurrent:
		s.offset += offset
	case io.SeekEnd:
		return 0, nxerr.New(nxerr.KindUnsupported, "CtrStream does not support SeekEnd")
	default:
		return 0, nxerr.New(nxerr.KindInvalidArgument, "invalid whence %d", whence)
	}
	return s.offset - s.baseOffset, nil
}

// ivFor serializes ctrHi into the high 8 bytes of a 16-byte counter; the
// caller's NewCTRStream call fills the low 8 bytes from the aligned offset.
func ivFor(ctrHi uint64) []byte {
	iv := make([]byte, 16)
	for i := 0; i < 8; i++ {
		iv[i] = byte(ctrHi >> (8 * (7 - i)))
	}
	return iv
}

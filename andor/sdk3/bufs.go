//go:build sdk3

package sdk3

/*
#cgo CFLAGS: -I/usr/local
#cgo LDFLAGS: -L/usr/local/lib -latcore
#include <stdlib.h>
#include <atcore.h>

static AT_U8* at_alloc(int n) { return (AT_U8*)aligned_alloc(8, (size_t)((n + 7) / 8 * 8)); }
*/
import "C"
import "unsafe"

// buffer is an 8-byte aligned block of memory owned by C.  The SDK keeps
// pointers to queued buffers, so they cannot live on the Go heap.
type buffer struct {
	cptr *C.AT_U8
	size int
}

func newBuffer(nbytes int) buffer {
	return buffer{cptr: C.at_alloc(C.int(nbytes)), size: nbytes}
}

func (b buffer) free() {
	C.free(unsafe.Pointer(b.cptr))
}

// bytes views the buffer without copying.  The view is only valid until the
// buffer is requeued or freed.
func (b buffer) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(b.cptr)), b.size)
}

// ring is the set of buffers handed to the SDK for one acquisition
type ring struct {
	bufs []buffer
}

func newRing(n, nbytes int) *ring {
	r := &ring{bufs: make([]buffer, n)}
	for i := range r.bufs {
		r.bufs[i] = newBuffer(nbytes)
	}
	return r
}

// find returns the buffer starting at p
func (r *ring) find(p *C.AT_U8) (buffer, bool) {
	for _, b := range r.bufs {
		if b.cptr == p {
			return b, true
		}
	}
	return buffer{}, false
}

func (r *ring) free() {
	for _, b := range r.bufs {
		b.free()
	}
	r.bufs = nil
}

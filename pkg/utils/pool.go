/*
 * Buffer Pool - byte slice reuse for the hot media paths.
 * The voice receive loops read RTP at packet rate for every peer in
 * the mesh; pooling keeps those reads from churning the GC.
 */
package utils

import (
	"sync"
)

// Sized for a typical RTP payload plus header (UDP MTU 1500).
const defaultBufferSize = 2048

// Buffers larger than this are not returned to the pool, so a burst of
// oversized packets cannot pin memory.
const maxPooledSize = 4096

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, defaultBufferSize)
	},
}

// GetBuffer returns a slice of the requested length. The backing array
// may be reused from a previous PutBuffer.
func GetBuffer(length int) []byte {
	buf := bufferPool.Get().([]byte)
	if cap(buf) < length {
		// Too small for this request: let the GC take it and allocate
		// a one-off of the right size.
		return make([]byte, length)
	}
	return buf[:length]
}

// PutBuffer returns a slice to the pool.
func PutBuffer(buf []byte) {
	if cap(buf) < defaultBufferSize || cap(buf) > maxPooledSize {
		return
	}
	bufferPool.Put(buf)
}

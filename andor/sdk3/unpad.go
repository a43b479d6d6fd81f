package sdk3

import "encoding/binary"

// unpad copies a Mono16 buffer with rows of stride bytes into dst
func unpad(dst []uint16, src []byte, stride, width, height int) {
	for row := 0; row < height; row++ {
		line := src[row*stride : row*stride+2*width]
		out := dst[row*width : (row+1)*width]
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(line[2*i:])
		}
	}
}

// newest returns the last of first and the buffers take yields before it
// fails.  Every buffer passed over is handed to requeue.
func newest[B any](first B, take func() (B, error), requeue func(B) error) (B, error) {
	b := first
	for {
		next, err := take()
		if err != nil {
			return b, nil
		}
		if err := requeue(b); err != nil {
			return b, err
		}
		b = next
	}
}

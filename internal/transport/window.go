package transport

// window is a fixed-capacity byte buffer with separate read and write
// offsets. Bytes in [r,w) are pending; [w,cap) is free space.
type window struct {
	buf  []byte
	r, w int
}

func newWindow(size int) *window {
	return &window{buf: make([]byte, size)}
}

func (b *window) Pending() []byte { return b.buf[b.r:b.w] }

func (b *window) Free() []byte { return b.buf[b.w:] }

func (b *window) Len() int { return b.w - b.r }

func (b *window) Cap() int { return len(b.buf) }

// Consume marks n pending bytes as read.
func (b *window) Consume(n int) {
	b.r += n
	if b.r >= b.w {
		b.r, b.w = 0, 0
	}
}

// Commit marks n free bytes as written.
func (b *window) Commit(n int) {
	b.w += n
}

// Compact moves pending bytes to the front to maximise free space.
func (b *window) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:b.w])
	b.r, b.w = 0, n
}

func (b *window) Reset() {
	b.r, b.w = 0, 0
}

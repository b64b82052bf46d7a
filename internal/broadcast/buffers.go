package broadcast

// captureBufferCount is the number of frame buffers rotated while streaming.
const captureBufferCount = 3

// bufferPool owns the capture buffers of one stream. Free buffers are handed
// out last-in first-out; a buffer returns to the free list when the service
// unlocks it.
type bufferPool struct {
	all  [][]byte
	free [][]byte
}

func newBufferPool(frameSize int) *bufferPool {
	p := &bufferPool{}
	for i := 0; i < captureBufferCount; i++ {
		b := make([]byte, frameSize)
		p.all = append(p.all, b)
		p.free = append(p.free, b)
	}
	return p
}

func (p *bufferPool) get() ([]byte, bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	b := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return b, true
}

func (p *bufferPool) owns(b []byte) bool {
	return p.index(b) >= 0
}

// put returns b to the free list. Unknown or already free buffers are
// ignored.
func (p *bufferPool) put(b []byte) bool {
	if !p.owns(b) {
		return false
	}
	for _, f := range p.free {
		if sameBuffer(f, b) {
			return false
		}
	}
	p.free = append(p.free, p.all[p.index(b)])
	return true
}

func (p *bufferPool) index(b []byte) int {
	for i, a := range p.all {
		if sameBuffer(a, b) {
			return i
		}
	}
	return -1
}

func (p *bufferPool) available() int { return len(p.free) }

func sameBuffer(a, b []byte) bool {
	return len(a) > 0 && len(a) == len(b) && &a[0] == &b[0]
}

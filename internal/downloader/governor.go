package downloader

// Governor caps the number of jobs holding an extraction slot.
type Governor struct {
	sem chan struct{}
}

func NewGovernor(max int) *Governor {
	if max <= 0 {
		max = 3
	}
	return &Governor{sem: make(chan struct{}, max)}
}

// TryAdmit takes a slot without waiting.
func (g *Governor) TryAdmit() bool {
	select {
	case g.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot. Releasing with no slot held is a no-op.
func (g *Governor) Release() {
	select {
	case <-g.sem:
	default:
	}
}

func (g *Governor) Active() int {
	return len(g.sem)
}

func (g *Governor) Max() int {
	return cap(g.sem)
}

package scan

// ringLog keeps the most recent entries up to a fixed capacity, evicting the
// oldest first. It is not safe for concurrent use; Controller guards it.
type ringLog struct {
	buf   []string
	start int
	n     int
}

func newRingLog(capacity int) *ringLog {
	return &ringLog{buf: make([]string, capacity)}
}

func (r *ringLog) add(entry string) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = entry
		r.n++
		return
	}
	r.buf[r.start] = entry
	r.start = (r.start + 1) % len(r.buf)
}

// entries returns a copy, oldest first.
func (r *ringLog) entries() []string {
	out := make([]string, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ringLog) reset() {
	r.start, r.n = 0, 0
	clear(r.buf)
}

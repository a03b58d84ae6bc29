package processor

// DedupGate admits candle timestamps that are strictly newer than the last
// one it admitted. The zero value admits any first timestamp.
type DedupGate struct {
	last int64
	seen bool
}

// Accept reports whether ts is new and records it when it is. Repeats and
// late arrivals are rejected; the first sighting of a timestamp is final.
func (g *DedupGate) Accept(ts int64) bool {
	if g.seen && ts <= g.last {
		return false
	}
	g.last = ts
	g.seen = true
	return true
}

// Last returns the last admitted timestamp.
func (g *DedupGate) Last() (int64, bool) {
	return g.last, g.seen
}

func (g *DedupGate) Reset() {
	*g = DedupGate{}
}

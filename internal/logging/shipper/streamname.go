package shipper

import "time"

// StreamNamer computes the active log stream name, sharded by wall clock
// when a time layout is set.
type StreamNamer struct {
	base   string
	layout string
}

func NewStreamNamer(base, layout string) StreamNamer {
	return StreamNamer{base: base, layout: layout}
}

func (n StreamNamer) Rotates() bool {
	return n.layout != ""
}

func (n StreamNamer) Name(now time.Time) string {
	if n.layout == "" {
		return n.base
	}
	return n.base + "-" + now.Format(n.layout)
}

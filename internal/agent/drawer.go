package agent

import (
	"math/rand/v2"
	"sync"
)

// Drawer yields values in [0,1) that decide whether a helper responds.
type Drawer interface {
	Draw() float64
}

type randomDrawer struct{}

func NewRandomDrawer() Drawer {
	return randomDrawer{}
}

func (randomDrawer) Draw() float64 {
	return rand.Float64()
}

// SequenceDrawer returns a fixed sequence of draws, cycling when exhausted.
// It is safe for use by concurrent helpers.
type SequenceDrawer struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

func NewSequenceDrawer(values ...float64) *SequenceDrawer {
	return &SequenceDrawer{values: values}
}

func (d *SequenceDrawer) Draw() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.values) == 0 {
		return 0
	}
	v := d.values[d.pos%len(d.values)]
	d.pos++
	return v
}

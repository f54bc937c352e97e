package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPoolLength(t *testing.T) {
	p := NewBufferPool(16, 1024)

	b := p.Get(10)
	assert.Len(t, *b, 10)
	p.Put(b)

	b = p.Get(100)
	assert.Len(t, *b, 100)
	assert.GreaterOrEqual(t, cap(*b), 100)
	p.Put(b)
}

func TestBufferPoolDropsOversized(t *testing.T) {
	p := NewBufferPool(16, 64)
	b := p.Get(128)
	p.Put(b)
	assert.Len(t, *b, 128, "oversized buffers are left untouched")

	p.Put(nil)
}

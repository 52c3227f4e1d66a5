package generic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolResetsOnPut(t *testing.T) {
	p := NewPool(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)

	buf := p.Get()
	assert.NotNil(t, buf)
	buf.WriteString("payload")
	p.Put(buf)

	again := p.Get()
	assert.Zero(t, again.Len(), "recycled buffers come back reset")
}

func TestPoolWithoutResetHook(t *testing.T) {
	p := NewPool(func() []int { return make([]int, 0, 4) }, nil)
	s := p.Get()
	p.Put(append(s, 1))
}

func TestHotPoolPrefills(t *testing.T) {
	made := 0
	p := NewHotPool(func() int {
		made++
		return made
	}, nil, 3)
	assert.Equal(t, 3, made)

	// sync.Pool may drop values, so only the generator count is a
	// reliable observation
	for i := 0; i < 3; i++ {
		_ = p.Get()
	}
	assert.GreaterOrEqual(t, made, 3)
}

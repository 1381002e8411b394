package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)

	assert.Equal(t, start, c.Now())
	got := c.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), got)
	assert.Equal(t, got, c.Now())
}

func TestFakeSet(t *testing.T) {
	c := NewFake(time.Time{})
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	c.Set(at)
	assert.Equal(t, at, c.Now())
}

func TestSystemIsMonotonic(t *testing.T) {
	var c Clock = System{}
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}

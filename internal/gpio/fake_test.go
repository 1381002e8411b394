package gpio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeInputPullUpIdlesHigh(t *testing.T) {
	c := NewFakeChip()
	in, err := c.Input(17, PullUp)
	require.NoError(t, err)

	v, err := in.Read()
	require.NoError(t, err)
	assert.True(t, v)

	in2, err := c.Input(18, PullDown)
	require.NoError(t, err)
	v, err = in2.Read()
	require.NoError(t, err)
	assert.False(t, v)
}

func TestFakeWatchEdges(t *testing.T) {
	tests := []struct {
		name string
		edge Edge
		seq  []bool
		want []bool
	}{
		{"rising", EdgeRising, []bool{true, false, true}, []bool{true, true}},
		{"falling", EdgeFalling, []bool{true, false, true, false}, []bool{false, false}},
		{"both", EdgeBoth, []bool{true, false}, []bool{true, false}},
		{"repeated level is not an edge", EdgeBoth, []bool{true, true, true}, []bool{true}},
		{"none", EdgeNone, []bool{true, false}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewFakeChip()
			in, err := c.Input(4, PullDown)
			require.NoError(t, err)

			var got []bool
			require.NoError(t, in.Watch(tt.edge, func(level bool) { got = append(got, level) }))
			for _, lv := range tt.seq {
				c.Pin(4).Set(lv)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFakeOutputRecordsWrites(t *testing.T) {
	c := NewFakeChip()
	out, err := c.Output(22, false)
	require.NoError(t, err)

	require.NoError(t, out.Write(true))
	require.NoError(t, out.Write(false))

	p := c.Pin(22)
	assert.True(t, p.IsOutput)
	assert.Equal(t, []bool{true, false}, p.Writes())
	assert.False(t, p.Level())
}

func TestFakeErrors(t *testing.T) {
	c := NewFakeChip()
	out, err := c.Output(5, false)
	require.NoError(t, err)
	c.Pin(5).WriteError = errors.New("simulated error")
	assert.EqualError(t, out.Write(true), "simulated error")

	_, err = c.Output(5, false)
	assert.Error(t, err, "double request must fail")

	c.RequestError = errors.New("no chip")
	_, err = c.Input(6, PullUp)
	assert.EqualError(t, err, "no chip")
}

func TestFakeCloseStopsHandlers(t *testing.T) {
	c := NewFakeChip()
	in, err := c.Input(9, PullDown)
	require.NoError(t, err)
	fired := 0
	require.NoError(t, in.Watch(EdgeBoth, func(bool) { fired++ }))

	require.NoError(t, c.Close())
	assert.True(t, c.Closed)
	assert.True(t, c.Pin(9).Closed())

	c.Pin(9).Set(true)
	assert.Equal(t, 0, fired)
}

func TestParsePull(t *testing.T) {
	tests := []struct {
		in      string
		want    Pull
		wantErr bool
	}{
		{"", PullUp, false},
		{"up", PullUp, false},
		{"down", PullDown, false},
		{"none", PullNone, false},
		{"sideways", PullUp, true},
	}
	for _, tt := range tests {
		got, err := ParsePull(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

package graph

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func dump(t *testing.T, r *Registry) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, n := range r.Nodes() {
		b, err := n.State().MarshalJSON()
		require.NoError(t, err)
		fmt.Fprintf(&buf, "%s %s\n", n.Name(), b)
	}
	return buf.Bytes()
}

func TestFullGraphState(t *testing.T) {
	h := start(t,
		button("but1", 4),
		button("but2", 5),
		Descriptor{Name: "door", Type: "levelbutton", Pin: ptr(19), Invert: true},
		Descriptor{Name: "sw1", Type: "timedswitch", Upstream: []string{"but1"}, TimerDuration: ptr(5.0)},
		Descriptor{Name: "sw2", Type: "toggleswitch", Upstream: []string{"but2"}},
		Descriptor{Name: "sw3", Type: "onoffswitch", Upstream: []string{"door"}},
		output("l1", 12, "sw1"),
		output("l2", 14, "sw2"),
		output("l3", 27, "sw3"),
		Descriptor{Name: "bus", Type: "onewirebus", Bus: "w1_bus_master1", UpdatePeriod: ptr(60.0)},
		Descriptor{Name: "t1", Type: "thermometer", RomID: "28-a", Upstream: []string{"bus"}},
		Descriptor{Name: "heat", Type: "regulator", Upstream: []string{"t1"}, Thresh: ptr(20.0), DeltaPlus: 0.5, DeltaMinus: 0.5, Invert: true, FilterReps: ptr(0)},
		output("boiler", 22, "heat"),
	)
	h.bus.SetTemp("28-a", 18.5)

	h.press(4)
	h.press(5)
	h.level(19, false)
	h.at(3 * time.Second)
	h.at(time.Minute)
	h.at(time.Minute + 750*time.Millisecond)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "full_graph", dump(t, h.reg))
}

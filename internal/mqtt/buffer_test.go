package mqtt

import (
	"fmt"
	"testing"
)

func push(rb *ringBuffer, topic string, retained bool, payload byte) {
	rb.push(bufferedMsg{topic: topic, payload: []byte{payload}, retained: retained})
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer(10)
	if got := rb.drainAll(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestRingBufferKeepsOrder(t *testing.T) {
	rb := newRingBuffer(10)
	for i := 0; i < 5; i++ {
		push(rb, "home/graph/system", false, byte(i))
	}

	got := rb.drainAll()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := range got {
		if got[i].payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, got[i].payload[0])
		}
	}
	if rb.drainAll() != nil {
		t.Error("expected nil from second drain")
	}
}

func TestRingBufferOverflowDropsOldest(t *testing.T) {
	rb := newRingBuffer(5)

	// 0..7 on distinct topics: the most recent 5 (3..7) survive
	for i := 0; i < 8; i++ {
		push(rb, fmt.Sprintf("home/graph/n%d/state", i), true, byte(i))
	}
	if rb.dropped != 3 {
		t.Errorf("dropped: got %d, want 3", rb.dropped)
	}

	got := rb.drainAll()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := range got {
		if want := byte(i + 3); got[i].payload[0] != want {
			t.Errorf("item %d: expected payload %d, got %d", i, want, got[i].payload[0])
		}
	}
	if rb.dropped != 0 {
		t.Error("drain should reset the drop count")
	}
}

func TestRingBufferCoalescesRetainedState(t *testing.T) {
	rb := newRingBuffer(10)
	push(rb, "home/graph/sw1/state", true, 1)
	push(rb, "home/graph/system", false, 9)
	push(rb, "home/graph/sw1/state", true, 0)
	push(rb, "home/graph/sw1/state", true, 1)
	push(rb, "home/graph/system", false, 8)

	got := rb.drainAll()
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0].topic != "home/graph/sw1/state" || got[0].payload[0] != 1 {
		t.Errorf("state should keep its slot with the latest payload, got %s=%d", got[0].topic, got[0].payload[0])
	}
	if got[1].payload[0] != 9 || got[2].payload[0] != 8 {
		t.Error("non-retained messages are never coalesced")
	}
}

func TestRingBufferCoalesceAfterWrap(t *testing.T) {
	rb := newRingBuffer(3)
	push(rb, "a", false, 0)
	push(rb, "b", true, 1)
	push(rb, "c", true, 2)
	push(rb, "d", true, 3) // drops "a"
	push(rb, "b", true, 4)

	got := rb.drainAll()
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i, topic := range want {
		if got[i].topic != topic {
			t.Errorf("item %d: topic %s, want %s", i, got[i].topic, topic)
		}
	}
	if got[0].payload[0] != 4 {
		t.Errorf("b payload: got %d, want 4", got[0].payload[0])
	}
}

func TestRingBufferLen(t *testing.T) {
	rb := newRingBuffer(10)
	if rb.len() != 0 {
		t.Errorf("expected len 0, got %d", rb.len())
	}

	push(rb, "t", false, 0)
	push(rb, "t", false, 0)
	if rb.len() != 2 {
		t.Errorf("expected len 2, got %d", rb.len())
	}

	rb.drainAll()
	if rb.len() != 0 {
		t.Errorf("expected len 0 after drain, got %d", rb.len())
	}
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := newRingBuffer(10)
	rb.push(bufferedMsg{
		topic:    "home/graph/heat/state",
		payload:  []byte(`{"test":true}`),
		qos:      1,
		retained: true,
	})

	got := rb.drainAll()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].topic != "home/graph/heat/state" {
		t.Errorf("topic: got %s", got[0].topic)
	}
	if string(got[0].payload) != `{"test":true}` {
		t.Errorf("payload: got %s", got[0].payload)
	}
	if got[0].qos != 1 {
		t.Errorf("qos: got %d, want 1", got[0].qos)
	}
	if !got[0].retained {
		t.Error("retained: got false, want true")
	}
}

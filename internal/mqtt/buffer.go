package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds messages published while disconnected, oldest first.
// Retained messages are coalesced by topic: only the latest state of a
// node is worth replaying. When full, the oldest message is dropped.
// Not safe for concurrent use; the caller must synchronize.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	dropped  int // since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

// at returns the i-th oldest slot.
func (r *ringBuffer) at(i int) *bufferedMsg {
	start := (r.head - r.count + r.capacity) % r.capacity
	return &r.buf[(start+i)%r.capacity]
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if msg.retained {
		for i := 0; i < r.count; i++ {
			if m := r.at(i); m.retained && m.topic == msg.topic {
				*m = msg
				return
			}
		}
	}
	if r.count == r.capacity {
		if r.dropped == 0 {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", r.capacity)
		}
		r.dropped++
		// head is the oldest slot when full
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	for i := range result {
		result[i] = *r.at(i)
	}
	if r.dropped > 0 {
		log.Printf("mqtt: %d messages were dropped while disconnected", r.dropped)
	}

	r.count = 0
	r.head = 0
	r.dropped = 0
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}

package mqtt

import "github.com/rs/zerolog"

// queuedMsg is a serialized message waiting for the broker.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while disconnected, oldest first.
// When full, the oldest QoS 0 message (a summary) makes room before any
// transition or system event is dropped. Not safe for concurrent use.
type outbox struct {
	msgs     []queuedMsg
	capacity int
	dropped  int
	warned   bool // overflow logged since the last drain
	log      zerolog.Logger
}

func newOutbox(capacity int, log zerolog.Logger) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		msgs:     make([]queuedMsg, 0, capacity),
		capacity: capacity,
		log:      log,
	}
}

func (o *outbox) push(msg queuedMsg) {
	if len(o.msgs) == o.capacity {
		victim := 0
		for i, m := range o.msgs {
			if m.qos == 0 {
				victim = i
				break
			}
		}
		if !o.warned {
			o.log.Warn().Int("capacity", o.capacity).Str("dropped_topic", o.msgs[victim].topic).Msg("mqtt outbox full, dropping message")
			o.warned = true
		}
		o.dropped++
		o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
	}
	o.msgs = append(o.msgs, msg)
}

// drain removes and returns every queued message, oldest first.
func (o *outbox) drain() []queuedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = make([]queuedMsg, 0, o.capacity)
	o.warned = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}

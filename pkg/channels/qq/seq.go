package qq

import "sync"

// replySeq hands out the msg_seq values QQ requires for passive replies:
// strictly increasing per inbound message id, never reused. Each message id
// gets its own counter and lock so concurrent replies to different messages
// never contend.
type replySeq struct {
	mu       sync.Mutex
	counters map[string]*seqCounter
}

type seqCounter struct {
	mu   sync.Mutex
	last int
}

func newReplySeq() *replySeq {
	return &replySeq{counters: make(map[string]*seqCounter)}
}

// Next returns the next sequence number for replies to msgID. A zero value
// means "not replying" and is returned for an empty id.
func (r *replySeq) Next(msgID string) int {
	if msgID == "" {
		return 0
	}

	r.mu.Lock()
	c, ok := r.counters[msgID]
	if !ok {
		c = &seqCounter{}
		r.counters[msgID] = c
	}
	r.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

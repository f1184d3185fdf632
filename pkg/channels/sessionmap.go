package channels

import (
	"fmt"
	"sync"
)

// ConversationMap assigns stable conversation ids to platform-native peer
// keys and answers reverse lookups when an outbound message must be routed
// back to its peer.
type ConversationMap[K comparable] struct {
	mu      sync.RWMutex
	forward map[K]string
	reverse map[string]K
	prefix  string
	toKey   func(K) string
}

func NewConversationMap[K comparable](prefix string, toKey func(K) string) *ConversationMap[K] {
	return &ConversationMap[K]{
		forward: make(map[K]string),
		reverse: make(map[string]K),
		prefix:  prefix,
		toKey:   toKey,
	}
}

func (cm *ConversationMap[K]) GetOrCreate(peer K) string {
	cm.mu.RLock()
	id, ok := cm.forward[peer]
	cm.mu.RUnlock()

	if ok {
		return id
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if id, ok := cm.forward[peer]; ok {
		return id
	}

	id = fmt.Sprintf("%s-%s", cm.prefix, cm.toKey(peer))
	cm.forward[peer] = id
	cm.reverse[id] = peer
	return id
}

func (cm *ConversationMap[K]) Lookup(peer K) (string, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	id, ok := cm.forward[peer]
	return id, ok
}

func (cm *ConversationMap[K]) Reverse(conversationID string) (K, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	peer, ok := cm.reverse[conversationID]
	return peer, ok
}

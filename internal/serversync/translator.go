package serversync

import (
	"strings"
	"sync"
)

// IDTranslator maps client ids to server ids and back, per type hierarchy. Ids are
// compared without regard to case.
type IDTranslator struct {
	mu      sync.RWMutex
	toServe map[string]string
	toCli   map[string]string
}

// NewIDTranslator returns an empty translator.
func NewIDTranslator() *IDTranslator {
	return &IDTranslator{toServe: map[string]string{}, toCli: map[string]string{}}
}

func translationKey(root, id string) string {
	return root + "|" + strings.ToLower(id)
}

// Add records that clientID and serverID name the same instance of the hierarchy
// rooted at root.
func (t *IDTranslator) Add(root, clientID, serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toServe[translationKey(root, clientID)] = serverID
	t.toCli[translationKey(root, serverID)] = clientID
}

// ToServer returns the server id for id, or id itself when no mapping exists.
func (t *IDTranslator) ToServer(root, id string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if out, ok := t.toServe[translationKey(root, id)]; ok {
		return out
	}
	return id
}

// ToClient returns the client id for id, or id itself when no mapping exists.
func (t *IDTranslator) ToClient(root, id string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if out, ok := t.toCli[translationKey(root, id)]; ok {
		return out
	}
	return id
}

// Len returns the number of recorded mappings.
func (t *IDTranslator) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.toServe)
}

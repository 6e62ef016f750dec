// Package keyvault holds the in-memory key material of a session: the
// personal key pair and the unwrapped key of every conversation.
//
// Nothing in the vault is persisted. Conversation keys are rebuilt from
// wrapped blobs on every cold start.
package keyvault

import (
	"math"
	"sync"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
)

// Vault is safe for concurrent use by the sync cycle, live handlers and the
// pairing download.
type Vault struct {
	mu       sync.RWMutex
	personal *models.PersonalKeyPair
	keys     map[string]models.KeyPairItem
	ready    bool

	// gen counts single-key changes; touched holds the generation of the
	// last Put or Remove per conversation.
	gen     uint64
	touched map[string]uint64
}

func New() *Vault {
	return &Vault{keys: make(map[string]models.KeyPairItem), touched: make(map[string]uint64)}
}

// Put inserts item unless a key for its conversation already exists. It
// reports whether the item was stored. Invalid items are rejected.
func (v *Vault) Put(item models.KeyPairItem) bool {
	if !item.Valid() {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.keys[item.ConversationID]; ok {
		return false
	}
	v.keys[item.ConversationID] = item
	v.touchLocked(item.ConversationID)
	return true
}

func (v *Vault) Remove(conversationID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.keys, conversationID)
	v.touchLocked(conversationID)
}

func (v *Vault) touchLocked(conversationID string) {
	v.gen++
	v.touched[conversationID] = v.gen
}

// Mark returns the current change generation. Take it before reading the
// records a later ReplaceAllSince is built from.
func (v *Vault) Mark() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.gen
}

func (v *Vault) Get(conversationID string) (models.KeyPairItem, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	item, ok := v.keys[conversationID]
	return item, ok
}

// ReplaceAll swaps the whole conversation key map for items. Invalid items
// are dropped; for duplicate ids the last valid item wins.
func (v *Vault) ReplaceAll(items []models.KeyPairItem) {
	v.ReplaceAllSince(math.MaxUint64, items)
}

// ReplaceAllSince is ReplaceAll for items read after mark was taken.
// Conversations put or removed after mark keep their current state.
func (v *Vault) ReplaceAllSince(mark uint64, items []models.KeyPairItem) {
	next := make(map[string]models.KeyPairItem, len(items))
	for _, item := range items {
		if item.Valid() {
			next[item.ConversationID] = item
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for id, gen := range v.touched {
		if gen <= mark {
			delete(v.touched, id)
			continue
		}
		if cur, ok := v.keys[id]; ok {
			next[id] = cur
		} else {
			delete(next, id)
		}
	}
	v.keys = next
}

// Len returns the number of conversation keys.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return len(v.keys)
}

// ConversationIDs lists the conversations with a key, in no particular order.
func (v *Vault) ConversationIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids := make([]string, 0, len(v.keys))
	for id := range v.keys {
		ids = append(ids, id)
	}
	return ids
}

// SetPersonal installs the personal key pair and marks the vault ready to
// operate on encrypted content.
func (v *Vault) SetPersonal(pair models.PersonalKeyPair) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.personal = &pair
	v.ready = true
}

// Personal returns the personal key pair, if loaded.
func (v *Vault) Personal() (models.PersonalKeyPair, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.personal == nil {
		return models.PersonalKeyPair{}, false
	}
	return *v.personal, true
}

// Ready reports whether the personal key pair is loaded.
func (v *Vault) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.ready
}

// Reset drops all key material.
func (v *Vault) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.personal = nil
	v.ready = false
	v.keys = make(map[string]models.KeyPairItem)
	v.touched = make(map[string]uint64)
}

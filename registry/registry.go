// MIT License
//
// Copyright (c) 2025 DaggerTech
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package registry provides thread-safe client bookkeeping for the Altair
// hub. It tracks each registered application's public identifier, private
// key, metadata, subscriptions and callback endpoint, and hands out
// isolated snapshots so routing decisions never race with registration
// changes.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markoxley/altair/mtype"
	"github.com/markoxley/altair/samp"
)

// Record holds the hub-side state of one registered client.
type Record struct {
	// Public identifier, visible to every client
	ID string
	// Private key, known only to the hub and the owning client
	Key string
	// Callback endpoint URL, empty until setXmlrpcCallback
	Callback string
	// Declared metadata
	Meta samp.Metadata
	// Declared subscriptions
	Subs mtype.Subscriptions
	// Registration timestamp
	Registered time.Time
}

// Callable reports whether the client has declared a callback endpoint
// and can therefore receive routed messages.
func (r *Record) Callable() bool {
	return r.Callback != ""
}

// clone returns an isolated copy safe to hand outside the lock.
func (r *Record) clone() *Record {
	cp := *r
	cp.Meta = r.Meta.Clone()
	cp.Subs = r.Subs.Clone()
	return &cp
}

// Registry provides thread-safe management of registered clients.
// It uses a mutex to protect concurrent access and indexes records both
// by public identifier and by private key.
type Registry struct {
	// Map of public ID to record
	records map[string]*Record
	// Map of private key to public ID
	keys map[string]string
	// Sequence counter for generated IDs
	seq int
	// Protects concurrent access
	mutex sync.Mutex
}

// New creates and returns a new, empty Registry ready for concurrent use.
func New() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		keys:    make(map[string]string),
	}
}

// Register allocates a fresh client identity with a unique public ID and
// an unguessable private key. The metadata map may be nil; clients
// normally declare metadata in a separate step after registering.
//
// Parameters:
//   - meta: Initial metadata for the client, may be nil
//
// Returns:
//   - *Record: An isolated copy of the stored record
func (c *Registry) Register(meta samp.Metadata) *Record {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.seq++
	id := fmt.Sprintf("cli#%d", c.seq)
	return c.store(id, meta)
}

// RegisterWithID registers a client under a caller-chosen public ID. It is
// used for the hub's own identity, which has a well-known name.
//
// Parameters:
//   - id: The public identifier to register under
//   - meta: Initial metadata for the client, may be nil
//
// Returns:
//   - *Record: An isolated copy of the stored record
//   - error: If the identifier is already taken
func (c *Registry) RegisterWithID(id string, meta samp.Metadata) (*Record, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, exists := c.records[id]; exists {
		return nil, fmt.Errorf("id %q already registered", id)
	}
	return c.store(id, meta), nil
}

// store inserts a record under id. Caller must hold the mutex.
func (c *Registry) store(id string, meta samp.Metadata) *Record {
	rec := &Record{
		ID:         id,
		Key:        samp.NewPrivateKey(),
		Meta:       meta.Clone(),
		Subs:       mtype.Subscriptions{},
		Registered: time.Now(),
	}
	if rec.Meta == nil {
		rec.Meta = samp.Metadata{}
	}
	c.records[id] = rec
	c.keys[rec.Key] = id
	return rec.clone()
}

// Unregister removes a client record after checking its credentials.
//
// Parameters:
//   - id: The public identifier to remove
//   - key: The private key presented by the caller
//
// Returns:
//   - error: samp.ErrNotFound if the record is already gone, or
//     samp.ErrAuth if the key does not match the stored record
func (c *Registry) Unregister(id, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rec, exists := c.records[id]
	if !exists {
		return fmt.Errorf("%w: %s", samp.ErrNotFound, id)
	}
	if rec.Key != key {
		return samp.ErrAuth
	}
	delete(c.keys, rec.Key)
	delete(c.records, id)
	return nil
}

// SetMetadata replaces a client's metadata wholesale. The metadata must
// carry a non-empty display name.
//
// Parameters:
//   - id: The public identifier of the client
//   - key: The private key presented by the caller
//   - meta: The replacement metadata
//
// Returns:
//   - error: samp.ErrNotFound, samp.ErrAuth, or samp.ErrMalformed when
//     the display name is missing
func (c *Registry) SetMetadata(id, key string, meta samp.Metadata) error {
	if meta.Name() == "" {
		return fmt.Errorf("%w: metadata missing %s", samp.ErrMalformed, samp.MetaName)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rec, err := c.locked(id, key)
	if err != nil {
		return err
	}
	rec.Meta = meta.Clone()
	return nil
}

// SetSubscriptions replaces a client's subscription set wholesale.
//
// Parameters:
//   - id: The public identifier of the client
//   - key: The private key presented by the caller
//   - subs: The replacement subscription set
//
// Returns:
//   - error: samp.ErrNotFound or samp.ErrAuth
func (c *Registry) SetSubscriptions(id, key string, subs mtype.Subscriptions) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rec, err := c.locked(id, key)
	if err != nil {
		return err
	}
	rec.Subs = subs.Clone()
	if rec.Subs == nil {
		rec.Subs = mtype.Subscriptions{}
	}
	return nil
}

// SetCallback records a client's callback endpoint URL, making the client
// eligible to receive routed messages.
//
// Parameters:
//   - id: The public identifier of the client
//   - key: The private key presented by the caller
//   - url: The callback endpoint URL
//
// Returns:
//   - error: samp.ErrNotFound or samp.ErrAuth
func (c *Registry) SetCallback(id, key, url string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rec, err := c.locked(id, key)
	if err != nil {
		return err
	}
	rec.Callback = url
	return nil
}

// locked resolves id and checks key. Caller must hold the mutex.
func (c *Registry) locked(id, key string) (*Record, error) {
	rec, exists := c.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", samp.ErrNotFound, id)
	}
	if rec.Key != key {
		return nil, samp.ErrAuth
	}
	return rec, nil
}

// Evict forcibly removes a record without credentials. The hub uses this
// when a client's transport has failed for good; the client never had a
// chance to unregister cleanly.
//
// Parameters:
//   - id: The public identifier to remove
//
// Returns:
//   - bool: True if a record was removed, false if it was already gone
func (c *Registry) Evict(id string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rec, exists := c.records[id]
	if !exists {
		return false
	}
	delete(c.keys, rec.Key)
	delete(c.records, id)
	return true
}

// ByKey resolves a private key to an isolated copy of its record. This is
// how wire handlers authenticate callers.
//
// Parameters:
//   - key: The private key presented on the wire
//
// Returns:
//   - *Record: Copy of the record if the key is known, nil otherwise
//   - error: samp.ErrAuth if the key is not recognized
func (c *Registry) ByKey(key string) (*Record, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	id, exists := c.keys[key]
	if !exists {
		return nil, samp.ErrAuth
	}
	return c.records[id].clone(), nil
}

// Get retrieves an isolated copy of a record by public ID.
//
// Parameters:
//   - id: The public identifier to look up
//
// Returns:
//   - *Record: Copy of the record if found
//   - error: samp.ErrNotFound otherwise
func (c *Registry) Get(id string) (*Record, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rec, exists := c.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", samp.ErrNotFound, id)
	}
	return rec.clone(), nil
}

// List returns the public IDs of all registered clients except the one
// named, in sorted order. Pass the empty string to list everyone.
//
// Parameters:
//   - excluding: A public ID to omit from the result
//
// Returns:
//   - []string: Sorted public IDs
func (c *Registry) List(excluding string) []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		if id == excluding {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered clients.
func (c *Registry) Count() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.records)
}

// Snapshot returns isolated copies of every record. Routing works from a
// snapshot so that a client unregistering mid-broadcast either receives
// the message or does not, without tearing the recipient set.
//
// Returns:
//   - []*Record: Copies of all records, in no particular order
func (c *Registry) Snapshot() []*Record {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]*Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec.clone())
	}
	return out
}

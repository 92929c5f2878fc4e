// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/alestar328/TraiScore-sub000/fitsync"
)

// Remote operation names used by call counters and failure hooks
const (
	CallCreate = "create"
	CallPut    = "put"
	CallUpdate = "update"
	CallDelete = "delete"
	CallGet    = "get"
	CallList   = "list"
)

// FailFunc decides whether a remote call fails. Returning nil lets it proceed.
type FailFunc func(op, userID, remoteID string) error

// Backend is an in-memory fitsync.Backend partitioned by user
type Backend struct {
	mu          sync.Mutex
	collections map[string]*Collection
}

// NewBackend creates an empty backend
func NewBackend() *Backend {
	return &Backend{collections: make(map[string]*Collection)}
}

// Collection returns (creating on first use) the named collection
func (b *Backend) Collection(name string) fitsync.RemoteStore {
	return b.Coll(name)
}

// Coll is Collection with the concrete type, for test inspection
func (b *Backend) Coll(name string) *Collection {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.collections[name]
	if !ok {
		c = &Collection{
			name:  name,
			docs:  make(map[string]map[string]fitsync.Document),
			calls: make(map[string]int),
		}
		b.collections[name] = c
	}
	return c
}

// Collection is an in-memory fitsync.RemoteStore
type Collection struct {
	name string

	mu    sync.Mutex
	docs  map[string]map[string]fitsync.Document // user -> id -> doc
	calls map[string]int
	fail  FailFunc
}

// SetFail installs a failure hook (nil clears it)
func (c *Collection) SetFail(fn FailFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fn
}

// Calls returns how many times op was invoked, including failed calls
func (c *Collection) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// TotalCalls returns the number of calls of every kind
func (c *Collection) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// Len returns the number of documents stored for the user
func (c *Collection) Len(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs[userID])
}

func (c *Collection) begin(op, userID, remoteID string) error {
	c.calls[op]++
	if c.fail != nil {
		return c.fail(op, userID, remoteID)
	}
	return nil
}

func (c *Collection) partition(userID string) map[string]fitsync.Document {
	p, ok := c.docs[userID]
	if !ok {
		p = make(map[string]fitsync.Document)
		c.docs[userID] = p
	}
	return p
}

func copyDoc(doc fitsync.Document) fitsync.Document {
	out := make(fitsync.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func (c *Collection) Create(_ context.Context, userID string, doc fitsync.Document) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallCreate, userID, ""); err != nil {
		return "", err
	}
	if err := doc.Validate(); err != nil {
		return "", err
	}
	id := uuid.New().String()
	c.partition(userID)[id] = copyDoc(doc)
	return id, nil
}

func (c *Collection) Put(_ context.Context, userID, remoteID string, doc fitsync.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallPut, userID, remoteID); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	c.partition(userID)[remoteID] = copyDoc(doc)
	return nil
}

func (c *Collection) Update(_ context.Context, userID, remoteID string, doc fitsync.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallUpdate, userID, remoteID); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	p := c.partition(userID)
	if _, ok := p[remoteID]; !ok {
		return fmt.Errorf("%s/%s: %w", c.name, remoteID, fitsync.ErrNotFound)
	}
	p[remoteID] = copyDoc(doc)
	return nil
}

func (c *Collection) Delete(_ context.Context, userID, remoteID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallDelete, userID, remoteID); err != nil {
		return err
	}
	p := c.partition(userID)
	if _, ok := p[remoteID]; !ok {
		return fmt.Errorf("%s/%s: %w", c.name, remoteID, fitsync.ErrNotFound)
	}
	delete(p, remoteID)
	return nil
}

func (c *Collection) Get(_ context.Context, userID, remoteID string) (fitsync.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallGet, userID, remoteID); err != nil {
		return nil, err
	}
	doc, ok := c.partition(userID)[remoteID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c.name, remoteID, fitsync.ErrNotFound)
	}
	return copyDoc(doc), nil
}

// List returns the user's documents ordered by id
func (c *Collection) List(_ context.Context, userID string) ([]fitsync.RemoteDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallList, userID, ""); err != nil {
		return nil, err
	}
	p := c.partition(userID)
	out := make([]fitsync.RemoteDocument, 0, len(p))
	for id, doc := range p {
		out = append(out, fitsync.RemoteDocument{ID: id, Document: copyDoc(doc)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

package main

import (
	"context"
	"sync"
)

// Domain is the record C8 resolves an api_key to: which origin is allowed to
// connect under it, and whether it's currently active. spec.md places the
// admin store's own persistence layer out of scope; no example repo in the
// corpus imports a SQL driver for a comparable lookup, so this ships as an
// in-memory stub behind the same interface a real store would satisfy.
type Domain struct {
	ID     string
	Name   string // matched against the Origin header's host, case-insensitively; "*" disables the check
	APIKey string
	Active bool
}

// AdminStore is the read-only collaborator C8 consults on every upgrade.
type AdminStore interface {
	LookupAPIKey(ctx context.Context, apiKey string) (Domain, bool, error)
}

// memoryAdminStore is the in-memory stub. A production deployment would swap
// this for a store backed by whatever the admin service uses; nothing else
// in this package depends on the concrete type.
type memoryAdminStore struct {
	mu      sync.RWMutex
	domains map[string]Domain
}

func NewMemoryAdminStore(domains ...Domain) *memoryAdminStore {
	s := &memoryAdminStore{domains: make(map[string]Domain, len(domains))}
	for _, d := range domains {
		s.domains[d.APIKey] = d
	}
	return s
}

func (s *memoryAdminStore) LookupAPIKey(ctx context.Context, apiKey string) (Domain, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[apiKey]
	return d, ok, nil
}

func (s *memoryAdminStore) Put(d Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains[d.APIKey] = d
}

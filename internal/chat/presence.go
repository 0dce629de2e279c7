package chat

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// MaxUsernameLength bounds registered display names.
const MaxUsernameLength = 50

// Registry is the bidirectional connection <-> username binding.
// All mutations run under one lock so the uniqueness check and the insert
// are a single step.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]string // connID -> username
	byName map[string]string // username -> connID
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: map[string]string{},
		byName: map[string]string{},
	}
}

// NormalizeUsername trims and validates a display name.
func NormalizeUsername(name string) (string, error) {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return "", ErrInvalidName
	case utf8.RuneCountInString(n) > MaxUsernameLength:
		return "", ErrNameTooLong
	case strings.Contains(n, dmSeparator):
		return "", ErrNameReserved
	}
	return n, nil
}

// Register binds connID to username. It fails when the name is invalid,
// when another live connection holds it, or when connID is already bound.
func (r *Registry) Register(connID, username string) (string, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return "", ErrUsernameTaken
	}
	if _, ok := r.byConn[connID]; ok {
		return "", ErrAlreadyBound
	}
	r.byConn[connID] = name
	r.byName[name] = connID
	return name, nil
}

// Unregister drops the binding for connID and returns the freed username.
func (r *Registry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	if r.byName[name] == connID {
		delete(r.byName, name)
	}
	return name, true
}

// Lookup returns the live connection for username.
func (r *Registry) Lookup(username string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[username]
	return id, ok
}

// LookupByConnection returns the username bound to connID.
func (r *Registry) LookupByConnection(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byConn[connID]
	return name, ok
}

// Usernames returns all online usernames, sorted.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len is the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

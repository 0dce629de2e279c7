package chat

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// MaxGroupNameLength bounds group names.
const MaxGroupNameLength = 100

// Group is the directory's record. The owner is always in Members and a
// username is never in both Members and Pending.
type Group struct {
	Name    string
	Owner   string
	Private bool
	Members map[string]struct{}
	Pending map[string]struct{}
}

func (g *Group) isMember(user string) bool {
	_, ok := g.Members[user]
	return ok
}

func (g *Group) isPending(user string) bool {
	_, ok := g.Pending[user]
	return ok
}

func (g *Group) clone() *Group {
	cp := &Group{
		Name:    g.Name,
		Owner:   g.Owner,
		Private: g.Private,
		Members: make(map[string]struct{}, len(g.Members)),
		Pending: make(map[string]struct{}, len(g.Pending)),
	}
	for m := range g.Members {
		cp.Members[m] = struct{}{}
	}
	for p := range g.Pending {
		cp.Pending[p] = struct{}{}
	}
	return cp
}

// MemberList returns the sorted members.
func (g *Group) MemberList() []string { return sortedSet(g.Members) }

// PendingList returns the sorted pending requesters.
func (g *Group) PendingList() []string { return sortedSet(g.Pending) }

// ViewFor projects the group for viewer; pending requests are only visible to the owner.
func (g *Group) ViewFor(viewer string) GroupView {
	v := GroupView{
		Name:    g.Name,
		Owner:   g.Owner,
		Members: g.MemberList(),
		Private: g.Private,
		Pending: []string{},
	}
	if viewer != "" && viewer == g.Owner {
		v.Pending = g.PendingList()
	}
	return v
}

func sortedSet(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NormalizeGroupName trims and validates a group name.
func NormalizeGroupName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", ErrGroupNameRequired
	}
	if utf8.RuneCountInString(n) > MaxGroupNameLength {
		return "", ErrGroupNameTooLong
	}
	return n, nil
}

// Directory owns every group. Each operation checks and mutates under a
// single lock and hands back a copy, never the live record.
type Directory struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

func NewDirectory() *Directory {
	return &Directory{groups: map[string]*Group{}}
}

// Create adds a group with the owner as its only member.
func (d *Directory) Create(name, owner string, private bool) (*Group, error) {
	n, err := NormalizeGroupName(name)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.groups[n]; ok {
		return nil, ErrGroupExists
	}
	g := &Group{
		Name:    n,
		Owner:   owner,
		Private: private,
		Members: map[string]struct{}{owner: {}},
		Pending: map[string]struct{}{},
	}
	d.groups[n] = g
	return g.clone(), nil
}

// JoinPublic adds user to a public group. Joining twice is a no-op.
func (d *Directory) JoinPublic(name, user string) (*Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[name]
	if !ok {
		return nil, ErrGroupNotFound
	}
	if g.Private {
		return nil, ErrGroupPrivate
	}
	g.Members[user] = struct{}{}
	return g.clone(), nil
}

// RequestJoin records a pending request on a private group.
func (d *Directory) RequestJoin(name, user string) (*Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[name]
	if !ok {
		return nil, ErrGroupNotFound
	}
	switch {
	case !g.Private:
		return nil, ErrGroupPublic
	case g.isMember(user):
		return nil, ErrAlreadyMember
	case g.isPending(user):
		return nil, ErrAlreadyPending
	}
	g.Pending[user] = struct{}{}
	return g.clone(), nil
}

// Approve moves target from pending to members. Only the owner may call it.
func (d *Directory) Approve(name, owner, target string) (*Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, err := d.pendingDecision(name, owner, target)
	if err != nil {
		return nil, err
	}
	delete(g.Pending, target)
	g.Members[target] = struct{}{}
	return g.clone(), nil
}

// Reject drops target's pending request without adding it to members.
func (d *Directory) Reject(name, owner, target string) (*Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, err := d.pendingDecision(name, owner, target)
	if err != nil {
		return nil, err
	}
	delete(g.Pending, target)
	return g.clone(), nil
}

// pendingDecision must be called with d.mu held.
func (d *Directory) pendingDecision(name, owner, target string) (*Group, error) {
	g, ok := d.groups[name]
	if !ok {
		return nil, ErrGroupNotFound
	}
	if g.Owner != owner {
		return nil, ErrNotOwner
	}
	if !g.isPending(target) {
		return nil, ErrNoSuchPending
	}
	return g, nil
}

// Delete removes the whole group. Any current member may delete it.
func (d *Directory) Delete(name, requester string) (*Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[name]
	if !ok {
		return nil, ErrGroupNotFound
	}
	if !g.isMember(requester) {
		return nil, ErrNotAMember
	}
	delete(d.groups, name)
	return g, nil
}

// Get returns a copy of the named group.
func (d *Directory) Get(name string) (*Group, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[name]
	if !ok {
		return nil, false
	}
	return g.clone(), true
}

// IsMember reports whether user currently belongs to the named group.
func (d *Directory) IsMember(name, user string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[name]
	return ok && g.isMember(user)
}

// MemberOf returns the names of every group user belongs to, sorted.
func (d *Directory) MemberOf(user string) []string {
	d.mu.RLock()
	var out []string
	for name, g := range d.groups {
		if g.isMember(user) {
			out = append(out, name)
		}
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

// List returns every group projected for viewer, sorted by name.
func (d *Directory) List(viewer string) []GroupView {
	d.mu.RLock()
	out := make([]GroupView, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g.ViewFor(viewer))
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load replaces the directory contents, used when restoring from a store.
// Records breaking the owner or pending invariants are repaired on the way in.
func (d *Directory) Load(groups []*Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups = make(map[string]*Group, len(groups))
	for _, g := range groups {
		cp := g.clone()
		cp.Members[cp.Owner] = struct{}{}
		for m := range cp.Members {
			delete(cp.Pending, m)
		}
		if !cp.Private {
			clear(cp.Pending)
		}
		d.groups[cp.Name] = cp
	}
}

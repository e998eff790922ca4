package conversation

import "sync"

// Registry owns every Conversation of the process. Conversations are keyed
// by remote address only: the first caller for an address decides the
// session and identity recorded on it.
type Registry struct {
	mu      sync.Mutex
	byAddr  map[string]*Conversation
	byID    map[int]*Conversation
	ordered []*Conversation
	nextID  int
}

func NewRegistry() *Registry {
	return &Registry{
		byAddr: map[string]*Conversation{},
		byID:   map[int]*Conversation{},
		nextID: 1,
	}
}

// GetOrCreate returns the conversation for remoteAddress, creating it with
// the next id when absent. created reports whether this call inserted it.
// On a hit sessionIndex and ownIdentity are ignored.
func (r *Registry) GetOrCreate(remoteAddress string, sessionIndex int, ownIdentity string) (c *Conversation, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byAddr[remoteAddress]; ok {
		return c, false
	}
	c = &Conversation{
		ID:            r.nextID,
		SessionIndex:  sessionIndex,
		OwnIdentity:   ownIdentity,
		RemoteAddress: remoteAddress,
	}
	r.nextID++
	r.byAddr[remoteAddress] = c
	r.byID[c.ID] = c
	r.ordered = append(r.ordered, c)
	return c, true
}

// Get returns the conversation for remoteAddress, if any.
func (r *Registry) Get(remoteAddress string) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byAddr[remoteAddress]
	return c, ok
}

// LookupMany resolves ids in input order. Unknown ids are dropped; a
// repeated id yields the conversation once per occurrence.
func (r *Registry) LookupMany(ids []int) []*Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ListAll returns every conversation in creation order.
func (r *Registry) ListAll() []*Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Conversation(nil), r.ordered...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ordered)
}

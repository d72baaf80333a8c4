package typing

import (
	"sort"
	"sync"
	"time"
)

// DefaultRemoteTTL drops a remote typing entry if no stop event arrives.
const DefaultRemoteTTL = 5 * time.Second

// User is someone currently typing in the conversation.
type User struct {
	ID   int64
	Name string
}

type entry struct {
	name  string
	timer Timer
	gen   uint64
}

// Tracker holds who is typing in one conversation.
type Tracker struct {
	mu        sync.Mutex
	users     map[int64]*entry
	gen       uint64
	ttl       time.Duration
	afterFunc AfterFunc
	onChange  func([]User)
}

// NewTracker creates an empty tracker. onChange may be nil.
func NewTracker(ttl time.Duration, afterFunc AfterFunc, onChange func([]User)) *Tracker {
	if ttl <= 0 {
		ttl = DefaultRemoteTTL
	}
	if afterFunc == nil {
		afterFunc = RealAfterFunc
	}
	return &Tracker{
		users:     make(map[int64]*entry),
		ttl:       ttl,
		afterFunc: afterFunc,
		onChange:  onChange,
	}
}

// Set applies a typing.changed event. true inserts or refreshes the entry,
// false removes it.
func (t *Tracker) Set(userID int64, name string, isTyping bool) {
	t.mu.Lock()

	changed := false
	e, ok := t.users[userID]
	if ok {
		e.timer.Stop()
	}

	if isTyping {
		t.gen++
		gen := t.gen
		changed = !ok || e.name != name
		t.users[userID] = &entry{
			name:  name,
			gen:   gen,
			timer: t.afterFunc(t.ttl, func() { t.expire(userID, gen) }),
		}
	} else if ok {
		delete(t.users, userID)
		changed = true
	}

	users := t.usersLocked()
	t.mu.Unlock()

	if changed {
		t.emit(users)
	}
}

// Users returns the typing users ordered by name.
func (t *Tracker) Users() []User {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usersLocked()
}

// Clear drops every entry without notifying.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.users {
		e.timer.Stop()
		delete(t.users, id)
	}
}

func (t *Tracker) expire(userID int64, gen uint64) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.users, userID)
	users := t.usersLocked()
	t.mu.Unlock()

	t.emit(users)
}

func (t *Tracker) usersLocked() []User {
	users := make([]User, 0, len(t.users))
	for id, e := range t.users {
		users = append(users, User{ID: id, Name: e.name})
	}
	sort.Slice(users, func(a, b int) bool {
		if users[a].Name == users[b].Name {
			return users[a].ID < users[b].ID
		}
		return users[a].Name < users[b].Name
	})
	return users
}

func (t *Tracker) emit(users []User) {
	if t.onChange != nil {
		t.onChange(users)
	}
}

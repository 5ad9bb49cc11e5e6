package llm

import (
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// UsageTracker counts successful real-model calls per calendar day, globally
// and per user. A limit of zero or less means unlimited.
//
// Callers reserve a slot before calling a model and then either Commit or
// Release it, so in-flight calls count against the caps.
type UsageTracker struct {
	mu  sync.Mutex
	loc *time.Location
	now func() time.Time

	globalLimit int
	userLimit   int

	day         string
	global      int
	perUser     map[string]int
	pending     int
	pendingUser map[string]int
}

func NewUsageTracker(globalLimit, userLimit int, loc *time.Location) *UsageTracker {
	if loc == nil {
		loc = time.Local
	}
	return &UsageTracker{
		loc:         loc,
		now:         time.Now,
		globalLimit: globalLimit,
		userLimit:   userLimit,
		perUser:     map[string]int{},
		pendingUser: map[string]int{},
	}
}

// SetClock replaces the time source.
func (t *UsageTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// rollover resets the counters when the day changed. Pending reservations
// survive so in-flight calls stay bounded. Callers hold t.mu.
func (t *UsageTracker) rollover() {
	today := t.now().In(t.loc).Format(dayLayout)
	if today == t.day {
		return
	}
	t.day = today
	t.global = 0
	t.perUser = map[string]int{}
}

// Reservation is a slot held against the daily caps.
type Reservation struct {
	t    *UsageTracker
	user string
	done bool
}

// Reserve takes a slot if both caps leave room for it.
func (t *UsageTracker) Reserve(user string) (*Reservation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	if t.globalLimit > 0 && t.global+t.pending >= t.globalLimit {
		return nil, false
	}
	if user != "" && t.userLimit > 0 && t.perUser[user]+t.pendingUser[user] >= t.userLimit {
		return nil, false
	}
	t.pending++
	if user != "" {
		t.pendingUser[user]++
	}
	return &Reservation{t: t, user: user}, true
}

// Commit counts the reserved call as a successful model call.
func (r *Reservation) Commit() { r.finish(true) }

// Release gives the slot back without counting it.
func (r *Reservation) Release() { r.finish(false) }

func (r *Reservation) finish(count bool) {
	if r == nil {
		return
	}
	t := r.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	t.rollover()
	t.pending--
	if r.user != "" {
		t.pendingUser[r.user]--
		if t.pendingUser[r.user] <= 0 {
			delete(t.pendingUser, r.user)
		}
	}
	if count {
		t.global++
		if r.user != "" {
			t.perUser[r.user]++
		}
	}
}

// Seed sets today's counters, e.g. when restoring state.
func (t *UsageTracker) Seed(global int, users map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	t.global = global
	t.perUser = make(map[string]int, len(users))
	for u, n := range users {
		t.perUser[u] = n
	}
}

type Limits struct {
	Global int `json:"global"`
	User   int `json:"user"`
}

type DailyUsage struct {
	Date  string         `json:"date"`
	Total int            `json:"total"`
	Users map[string]int `json:"users"`
	InUse int            `json:"in_flight"`
}

type UsageStats struct {
	Daily  DailyUsage `json:"daily"`
	Limits Limits     `json:"limits"`
}

type UserUsage struct {
	Today     int `json:"today"`
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

func (t *UsageTracker) Stats() UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	users := make(map[string]int, len(t.perUser))
	for u, n := range t.perUser {
		users[u] = n
	}
	return UsageStats{
		Daily:  DailyUsage{Date: t.day, Total: t.global, Users: users, InUse: t.pending},
		Limits: Limits{Global: t.globalLimit, User: t.userLimit},
	}
}

// User reports one user's usage. Remaining is -1 when unlimited.
func (t *UsageTracker) User(id string) UserUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	today := t.perUser[id]
	remaining := -1
	if t.userLimit > 0 {
		remaining = max(0, t.userLimit-today)
	}
	return UserUsage{Today: today, Remaining: remaining, Limit: t.userLimit}
}

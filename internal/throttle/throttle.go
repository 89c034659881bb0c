// Package throttle suppresses identical outbound calls issued within a short window.
package throttle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"github.com/go-co-op/gocron"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const DefaultWindow time.Duration = time.Second

// Key identifies indistinguishable calls: same method, target, query and body.
type Key string

func KeyOf(d models.RequestDescriptor) Key {
	bodyHash := sha256.Sum256(d.Body)
	return Key(fmt.Sprintf("%s:%s:%s:%s", d.Method, d.Target, d.Query.Encode(), hex.EncodeToString(bodyHash[:])))
}

// Guard remembers when each key was last admitted. The arena is ordered by
// admission time, oldest first, so expired entries can be pruned from the front.
type Guard struct {
	window    time.Duration
	now       func() time.Time
	lock      sync.Mutex
	arena     *orderedmap.OrderedMap[Key, time.Time]
	scheduler *gocron.Scheduler
}

// Admit returns false when an identical call was admitted less than one window ago.
// Read calls are always admitted and never recorded.
func (g *Guard) Admit(d models.RequestDescriptor) bool {
	if d.IsRead() {
		return true
	}
	key := KeyOf(d)
	g.lock.Lock()
	defer g.lock.Unlock()
	now := g.now()
	g.prune(now)
	lastIssuedAt, found := g.arena.Get(key)
	if found && now.Sub(lastIssuedAt) < g.window {
		slog.Debug("THROTTLE", "message", "duplicate request rejected", "method", d.Method, "target", d.Target)
		return false
	}
	g.arena.Delete(key)
	g.arena.Set(key, now)
	return true
}

// prune drops expired entries, the caller must hold the lock
func (g *Guard) prune(now time.Time) int {
	removed := 0
	for pair := g.arena.Oldest(); pair != nil; {
		if now.Sub(pair.Value) < g.window {
			break
		}
		next := pair.Next()
		g.arena.Delete(pair.Key)
		removed++
		pair = next
	}
	return removed
}

// Sweep removes every expired entry and returns how many were dropped
func (g *Guard) Sweep() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.prune(g.now())
}

func (g *Guard) Len() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.arena.Len()
}

func (g *Guard) Window() time.Duration {
	return g.window
}

// StartSweeper periodically prunes the arena so that keys which are never seen
// again do not linger.
func (g *Guard) StartSweeper(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("the sweep interval has to be positive, got %s", interval)
	}
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).Do(func() {
		removed := g.Sweep()
		if removed > 0 {
			slog.Debug("THROTTLE", "message", "swept expired entries", "removed", removed)
		}
	})
	if err != nil {
		return err
	}
	s.StartAsync()
	g.lock.Lock()
	previous := g.scheduler
	g.scheduler = s
	g.lock.Unlock()
	if previous != nil {
		previous.Stop()
	}
	return nil
}

func (g *Guard) Stop() {
	g.lock.Lock()
	s := g.scheduler
	g.scheduler = nil
	g.lock.Unlock()
	if s != nil {
		s.Stop()
	}
}

type GuardOption func(*Guard) error

func WithWindow(window time.Duration) GuardOption {
	return func(g *Guard) error {
		if window <= 0 {
			return fmt.Errorf("the throttle window has to be positive, got %s", window)
		}
		g.window = window
		return nil
	}
}

func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) error {
		g.now = now
		return nil
	}
}

func NewGuard(options ...GuardOption) (*Guard, error) {
	g := Guard{
		window: DefaultWindow,
		now:    time.Now,
		arena:  orderedmap.New[Key, time.Time](),
	}
	for _, opt := range options {
		err := opt(&g)
		if err != nil {
			return nil, err
		}
	}
	return &g, nil
}

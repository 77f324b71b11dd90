package websocket

import (
	"sync"
	"sync/atomic"
	"time"
)

// Subscription is an explicit handle on the mission change feed. The owner
// must call Close when it stops listening.
type Subscription struct {
	ID      string
	filter  Filter
	updates chan MissionUpdate
	manager *Manager
	remote  bool

	lastSeen  atomic.Int64
	dropped   atomic.Int64
	closeOnce sync.Once
	release   sync.Once
}

// Updates delivers matching events until the subscription is closed.
func (s *Subscription) Updates() <-chan MissionUpdate {
	return s.updates
}

// Close removes the subscription from the feed. It is safe to call more than once.
func (s *Subscription) Close() {
	s.release.Do(func() {
		s.manager.unsubscribe(s)
	})
}

// Dropped counts updates discarded because the subscriber was too slow.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Subscription) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

func (s *Subscription) closeChannel() {
	s.closeOnce.Do(func() { close(s.updates) })
}

func (s *Subscription) matches(update MissionUpdate) bool {
	f := s.filter
	if len(f.MissionIDs) > 0 && !contains(f.MissionIDs, update.MissionID) {
		return false
	}
	if len(f.TransportIDs) > 0 && !contains(f.TransportIDs, update.TransportID) {
		return false
	}
	if f.OwnerID != "" && f.OwnerID != update.OwnerID {
		return false
	}
	if f.DriverID != "" && f.DriverID != update.DriverID {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

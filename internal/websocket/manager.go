package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	ErrFeedFull    = errors.New("mission feed buffer full")
	ErrFeedStopped = errors.New("mission feed stopped")
)

const (
	subscriptionBuffer = 64
	remoteIdleTimeout  = 90 * time.Second
	pingInterval       = 54 * time.Second
	writeWait          = 10 * time.Second
)

// Manager fans mission updates out to subscriptions. Remote subscriptions are
// backed by a websocket connection served by Serve.
type Manager struct {
	subs       map[string]*Subscription
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan MissionUpdate
	mutex      sync.RWMutex
	upgrader   websocket.Upgrader
	done       chan struct{}
	stopOnce   sync.Once
}

// NewManager creates a new feed manager. allowedOrigins empty accepts any origin.
func NewManager(allowedOrigins ...string) *Manager {
	return &Manager{
		subs:       make(map[string]*Subscription),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan MissionUpdate, 1000),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done: make(chan struct{}),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		return contains(allowed, origin)
	}
}

// Start begins the manager's main loop
func (m *Manager) Start() error {
	go m.run()
	logrus.Info("Mission feed started")
	return nil
}

// Stop closes every subscription and ends the main loop
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		close(m.done)

		m.mutex.Lock()
		for id, sub := range m.subs {
			delete(m.subs, id)
			sub.closeChannel()
		}
		m.mutex.Unlock()

		logrus.Info("Mission feed stopped")
	})
	return nil
}

func (m *Manager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sub := <-m.register:
			m.mutex.Lock()
			m.subs[sub.ID] = sub
			m.mutex.Unlock()
			logrus.WithField("subscription", sub.ID).Debug("Subscription registered")

		case sub := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.subs[sub.ID]; ok {
				delete(m.subs, sub.ID)
				sub.closeChannel()
			}
			m.mutex.Unlock()
			logrus.WithField("subscription", sub.ID).Debug("Subscription closed")

		case update := <-m.broadcast:
			m.fanOut(update)

		case <-ticker.C:
			m.healthCheck()

		case <-m.done:
			return
		}
	}
}

// Subscribe opens a subscription on the feed.
func (m *Manager) Subscribe(filter Filter) (*Subscription, error) {
	return m.subscribe(filter, false)
}

func (m *Manager) subscribe(filter Filter, remote bool) (*Subscription, error) {
	sub := &Subscription{
		ID:      uuid.NewString(),
		filter:  filter,
		updates: make(chan MissionUpdate, subscriptionBuffer),
		manager: m,
		remote:  remote,
	}
	sub.touch()

	select {
	case m.register <- sub:
		return sub, nil
	case <-m.done:
		return nil, ErrFeedStopped
	}
}

func (m *Manager) unsubscribe(sub *Subscription) {
	select {
	case m.unregister <- sub:
	case <-m.done:
	}
}

// Publish queues an update without blocking. A full buffer drops the update.
func (m *Manager) Publish(update MissionUpdate) error {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}
	select {
	case <-m.done:
		return ErrFeedStopped
	default:
	}
	select {
	case m.broadcast <- update:
		return nil
	default:
		return ErrFeedFull
	}
}

func (m *Manager) fanOut(update MissionUpdate) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, sub := range m.subs {
		if !sub.matches(update) {
			continue
		}
		select {
		case sub.updates <- update:
		default:
			sub.dropped.Add(1)
			logrus.WithField("subscription", sub.ID).Warn("Subscriber too slow, dropping update")
		}
	}
}

// healthCheck closes remote subscriptions whose peer stopped answering pings.
func (m *Manager) healthCheck() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	for id, sub := range m.subs {
		if sub.remote && sub.idleFor(now) > remoteIdleTimeout {
			logrus.WithField("subscription", id).Info("Subscription timed out")
			delete(m.subs, id)
			sub.closeChannel()
		}
	}
}

// SubscriberCount returns the number of open subscriptions
func (m *Manager) SubscriberCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.subs)
}

func (m *Manager) GetClientStats() ClientStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := ClientStats{TotalSubscriptions: len(m.subs)}
	for _, sub := range m.subs {
		if sub.remote {
			stats.RemoteSubscriptions++
		}
		stats.DroppedUpdates += sub.Dropped()
	}
	return stats
}

// Upgrade switches an HTTP request to a websocket connection.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

// Serve streams matching updates to conn until the peer disconnects or the feed stops.
func (m *Manager) Serve(conn *websocket.Conn, filter Filter) error {
	sub, err := m.subscribe(filter, true)
	if err != nil {
		conn.Close()
		return err
	}
	defer sub.Close()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		sub.touch()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.WithError(err).WithField("subscription", sub.ID).Debug("websocket read error")
				}
				return
			}
			sub.touch()
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-sub.Updates():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return nil
			}
			if err := conn.WriteJSON(map[string]interface{}{
				"type": MessageTypeMissionUpdate,
				"data": update,
			}); err != nil {
				return err
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}

		case <-readerDone:
			return nil
		}
	}
}

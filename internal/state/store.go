// Package state holds the client's current room, display name and
// connection flag. A single Store is created per process and passed to the
// components that need it.
package state

import "sync"

// Session is the client's current room/user/connection-flag triple.
type Session struct {
	RoomID    string
	UserName  string
	Connected bool
}

// Store owns the Session. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	session  Session
	watchers map[int]chan Session
	nextID   int
}

// NewStore creates an empty, disconnected Store.
func NewStore() *Store {
	return &Store{watchers: make(map[int]chan Session)}
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Store) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.RoomID
}

func (s *Store) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.UserName
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Connected
}

func (s *Store) SetRoomID(roomID string) {
	s.update(func(sess *Session) { sess.RoomID = roomID })
}

func (s *Store) SetUserName(name string) {
	s.update(func(sess *Session) { sess.UserName = name })
}

func (s *Store) SetConnected(connected bool) {
	s.update(func(sess *Session) { sess.Connected = connected })
}

// Join records a successful join or create.
func (s *Store) Join(roomID, userName string) {
	s.update(func(sess *Session) {
		*sess = Session{RoomID: roomID, UserName: userName, Connected: true}
	})
}

// Leave clears the session.
func (s *Store) Leave() {
	s.update(func(sess *Session) { *sess = Session{} })
}

// Watch returns a channel that receives the session after every change,
// starting with the current value. Only the latest unread snapshot is kept.
// The returned func stops the watch and closes the channel.
func (s *Store) Watch() (<-chan Session, func()) {
	ch := make(chan Session, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	ch <- s.session
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, stop
}

func (s *Store) update(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.session
	fn(&s.session)
	if s.session == before {
		return
	}
	for _, ch := range s.watchers {
		publish(ch, s.session)
	}
}

// publish replaces any unread snapshot in ch with sess. Callers hold s.mu,
// so no other sender races on ch.
func publish(ch chan Session, sess Session) {
	select {
	case <-ch:
	default:
	}
	ch <- sess
}

package realtime

import (
	"log/slog"
	"sync"

	"trade_desk/internal/domain"
	"trade_desk/internal/infra"
)

// Peer is one live connection as seen by the registry.
type Peer interface {
	ID() string
	// Send queues ev and reports whether it was accepted.
	Send(ev domain.Envelope) bool
	// CloseWith queues a terminal event, then closes the connection.
	CloseWith(final domain.Envelope)
	Close()
}

// State of a connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session binds an authenticated connection to its principal and rooms.
type Session struct {
	Peer      Peer
	Principal domain.Principal
	Rooms     []domain.RoomID
}

// RoomsFor returns the rooms a principal joins on authentication.
func RoomsFor(p domain.Principal) []domain.RoomID {
	rooms := []domain.RoomID{domain.UserRoom(p.ID)}
	if p.IsOperator() {
		rooms = append(rooms, domain.OperatorsRoom)
	}
	return rooms
}

// Registry tracks room membership of live sessions and fans events out to them.
// It implements domain.Publisher.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[domain.RoomID]map[string]Peer

	metrics *infra.Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *infra.Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[domain.RoomID]map[string]Peer),
		metrics:  metrics,
	}
}

// Join registers an authenticated peer in the rooms of its principal.
func (r *Registry) Join(peer Peer, p domain.Principal) *Session {
	sess := &Session{Peer: peer, Principal: p, Rooms: RoomsFor(p)}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[peer.ID()] = sess
	for _, room := range sess.Rooms {
		members, ok := r.rooms[room]
		if !ok {
			members = make(map[string]Peer)
			r.rooms[room] = members
		}
		members[peer.ID()] = peer
	}
	return sess
}

// Leave removes a peer from every room. It is safe to call more than once.
func (r *Registry) Leave(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(peerID)
}

func (r *Registry) removeLocked(peerID string) *Session {
	sess, ok := r.sessions[peerID]
	if !ok {
		return nil
	}
	delete(r.sessions, peerID)
	for _, room := range sess.Rooms {
		members := r.rooms[room]
		delete(members, peerID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	return sess
}

// Members returns a snapshot of the peers in room.
func (r *Registry) Members(room domain.RoomID) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]Peer, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Publish delivers ev to every peer currently in room and returns how many accepted it.
func (r *Registry) Publish(room domain.RoomID, ev domain.Envelope) int {
	return r.deliver(r.Members(room), ev)
}

// Broadcast delivers ev to every authenticated peer.
func (r *Registry) Broadcast(ev domain.Envelope) int {
	r.mu.RLock()
	peers := make([]Peer, 0, len(r.sessions))
	for _, s := range r.sessions {
		peers = append(peers, s.Peer)
	}
	r.mu.RUnlock()
	return r.deliver(peers, ev)
}

// Terminate removes every peer in room, delivers final to each, then closes them.
func (r *Registry) Terminate(room domain.RoomID, final domain.Envelope) int {
	r.mu.Lock()
	members := r.rooms[room]
	peers := make([]Peer, 0, len(members))
	for id, p := range members {
		peers = append(peers, p)
		r.removeLocked(id)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.CloseWith(final)
	}
	if r.metrics != nil {
		r.metrics.RecordPublished(len(peers))
	}
	return len(peers)
}

func (r *Registry) deliver(peers []Peer, ev domain.Envelope) int {
	n := 0
	for _, p := range peers {
		if p.Send(ev) {
			n++
			continue
		}
		// Fallen behind the live stream or already gone.
		slog.Warn("Dropping slow connection", slog.String("conn", p.ID()), slog.String("event", ev.Event))
		r.Leave(p.ID())
		p.Close()
	}
	if r.metrics != nil {
		r.metrics.RecordPublished(n)
	}
	return n
}

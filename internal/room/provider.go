package room

import (
	"sync"

	"github.com/odysseylabs/odyssey/backend/internal/ordering"
)

// Session is one attachment to a live replication room. The bridge registers
// its callbacks first and then waits for the synced signal before trusting
// the emptiness of the replica; operations broadcast by other sessions of the
// same room arrive in a fixed order per session.
type Session interface {
	RoomID() string
	OnOp(callback func(ordering.Op))
	OnDesync(callback func())
	OnSynced(callback func())
	Broadcast(op ordering.Op)
	Close()
}

// Provider opens live replication rooms. Room identifiers derive
// deterministically from the presentation id.
type Provider interface {
	OpenRoom(roomID string) (Session, error)
}

const sessionQueueSize = 1024

type localEvent struct {
	op     *ordering.Op
	synced bool
	desync bool
}

// LocalProvider is the in-process replication provider: a per-room operation
// log fanned out to every open session through ordered per-session queues.
// Sessions joining an existing room receive the full history before the
// synced signal fires.
type LocalProvider struct {
	mu     sync.Mutex
	rooms  map[string]*localRoom
	nextID int64
}

type localRoom struct {
	history  []ordering.Op
	sessions map[int64]*localSession
}

type localSession struct {
	provider *LocalProvider
	roomID   string
	id       int64
	queue    chan localEvent

	mu             sync.Mutex
	opCallback     func(ordering.Op)
	syncedCallback func()
	desyncCallback func()
	closed         bool
}

// NewLocalProvider constructs an in-process replication provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{rooms: make(map[string]*localRoom)}
}

// OpenRoom attaches a new session to the room, creating the room on first use.
func (p *LocalProvider) OpenRoom(roomID string) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	liveRoom, ok := p.rooms[roomID]
	if !ok {
		liveRoom = &localRoom{sessions: make(map[int64]*localSession)}
		p.rooms[roomID] = liveRoom
	}

	p.nextID++
	session := &localSession{
		provider: p,
		roomID:   roomID,
		id:       p.nextID,
		queue:    make(chan localEvent, sessionQueueSize),
	}
	liveRoom.sessions[session.id] = session
	go session.pump()
	return session, nil
}

func (p *LocalProvider) broadcast(origin *localSession, op ordering.Op) {
	p.mu.Lock()
	defer p.mu.Unlock()

	liveRoom, ok := p.rooms[origin.roomID]
	if !ok {
		return
	}
	liveRoom.history = append(liveRoom.history, op)
	for _, session := range liveRoom.sessions {
		if session.id == origin.id {
			continue
		}
		session.enqueue(localEvent{op: &op})
	}
}

func (p *LocalProvider) deliverHistory(session *localSession) {
	p.mu.Lock()
	liveRoom, ok := p.rooms[session.roomID]
	var history []ordering.Op
	if ok {
		history = append(history, liveRoom.history...)
	}
	p.mu.Unlock()

	for i := range history {
		session.enqueue(localEvent{op: &history[i]})
	}
	session.enqueue(localEvent{synced: true})
}

func (p *LocalProvider) closeSession(session *localSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	liveRoom, ok := p.rooms[session.roomID]
	if !ok {
		return
	}
	delete(liveRoom.sessions, session.id)
	if len(liveRoom.sessions) == 0 {
		delete(p.rooms, session.roomID)
	}
}

func (s *localSession) RoomID() string {
	return s.roomID
}

func (s *localSession) OnOp(callback func(ordering.Op)) {
	s.mu.Lock()
	s.opCallback = callback
	s.mu.Unlock()
}

func (s *localSession) OnDesync(callback func()) {
	s.mu.Lock()
	s.desyncCallback = callback
	s.mu.Unlock()
}

// OnSynced registers the synced callback and schedules history replay; the
// callback fires only after every historical operation has been delivered.
func (s *localSession) OnSynced(callback func()) {
	s.mu.Lock()
	s.syncedCallback = callback
	s.mu.Unlock()
	go s.provider.deliverHistory(s)
}

func (s *localSession) Broadcast(op ordering.Op) {
	s.provider.broadcast(s, op)
}

func (s *localSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.provider.closeSession(s)
}

// enqueue never blocks: a session that cannot keep up is told to resynchronize
// instead of stalling the room. The session mutex covers the send so the
// queue is never written after Close.
func (s *localSession) enqueue(event localEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- event:
	default:
		select {
		case s.queue <- localEvent{desync: true}:
		default:
		}
	}
}

func (s *localSession) pump() {
	for event := range s.queue {
		s.mu.Lock()
		opCallback := s.opCallback
		syncedCallback := s.syncedCallback
		desyncCallback := s.desyncCallback
		s.mu.Unlock()

		switch {
		case event.desync:
			if desyncCallback != nil {
				desyncCallback()
			}
		case event.synced:
			if syncedCallback != nil {
				syncedCallback()
			}
		case event.op != nil:
			if opCallback != nil {
				opCallback(*event.op)
			}
		}
	}
}

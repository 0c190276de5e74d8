package relay

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle stage of a participant's connection.
type State int

const (
	// StateConnecting is a participant that has been created but not registered.
	StateConnecting State = iota
	// StateOpen is a registered participant that can send and receive.
	StateOpen
	// StateClosed is terminal; the participant has left its room.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Participant is one connected client bound to a single room for the lifetime
// of its connection. Identity is the participant pointer (and its ID), never
// the client supplied user id.
type Participant struct {
	id     string
	userID string
	roomID string

	mu    sync.Mutex
	state State
	send  chan []byte
}

func newParticipant(roomID, userID string, sendBuffer int) *Participant {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Participant{
		id:     uuid.NewString(),
		userID: userID,
		roomID: roomID,
		state:  StateConnecting,
		send:   make(chan []byte, sendBuffer),
	}
}

// ID returns the connection identity assigned at join time.
func (p *Participant) ID() string { return p.id }

// UserID returns the self-reported user id.
func (p *Participant) UserID() string { return p.userID }

// RoomID returns the room the participant joined.
func (p *Participant) RoomID() string { return p.roomID }

// State returns the current lifecycle state.
func (p *Participant) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Outbound returns the queue of serialized envelopes waiting to be written.
// The channel is closed once the participant leaves.
func (p *Participant) Outbound() <-chan []byte {
	return p.send
}

func (p *Participant) open() {
	p.mu.Lock()
	if p.state == StateConnecting {
		p.state = StateOpen
	}
	p.mu.Unlock()
}

// deliver enqueues msg without blocking. The state check and the send happen
// under the same lock as close, so a send never races a closed channel.
func (p *Participant) deliver(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateOpen {
		return ErrNotOpen
	}

	select {
	case p.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close moves the participant to StateClosed and closes its queue. It reports
// whether this call performed the transition.
func (p *Participant) close() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return false
	}
	p.state = StateClosed
	close(p.send)
	return true
}

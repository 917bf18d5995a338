package websocket

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/intersection"
	"github.com/aukilabs/kenaz/models"
)

// Router is an intersection listener that forwards probe transitions to the
// client owning the probe. Forwarding never blocks the engine: events that
// do not fit in a client send queue are dropped.
type Router struct {
	// Forwards stay transitions when true.
	StayEvents bool

	mutex   sync.RWMutex
	clients map[uint32]ResponseSender
}

// Register routes the events of the given probe to the sender.
func (r *Router) Register(probeID uint32, s ResponseSender) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.clients == nil {
		r.clients = make(map[uint32]ResponseSender)
	}
	r.clients[probeID] = s
}

func (r *Router) Unregister(probeID uint32) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.clients, probeID)
}

func (r *Router) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.clients)
}

func (r *Router) OnEnter(p *intersection.Probe, e *models.Entity) {
	r.route(MsgTypeEnter, p, e)
}

func (r *Router) OnStay(p *intersection.Probe, e *models.Entity) {
	if r.StayEvents {
		r.route(MsgTypeStay, p, e)
	}
}

func (r *Router) OnExit(p *intersection.Probe, e *models.Entity) {
	r.route(MsgTypeExit, p, e)
}

func (r *Router) route(t MsgType, p *intersection.Probe, e *models.Entity) {
	r.mutex.RLock()
	s, ok := r.clients[p.ID]
	r.mutex.RUnlock()

	if !ok {
		return
	}

	msg := Msg{
		Type:       t,
		ProbeID:    p.ID,
		EntityID:   e.ID,
		EntityName: e.Name,
	}

	if !s.TrySend(msg) {
		instrumentDroppedEvent(msg)
		logs.WithTag(intersection.ProbeIDTag, p.ID).
			WithTag(intersection.EntityIDTag, e.ID).
			WithTag("msg_type", msg.TypeString()).
			Warn("client send queue is full, event dropped")
	}
}

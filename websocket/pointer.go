package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/engine"
	"github.com/aukilabs/kenaz/intersection"
	"github.com/aukilabs/kenaz/models"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const (
	HeaderClientID = "X-Kenaz-Client-ID"

	DefaultClientIdleTimeout = time.Minute

	unregisterTimeout = 5 * time.Second
)

// PointerHandler binds a client connection to a pointer of the engine scene
// and the probe that follows it. Probe transitions reach the client through
// the router.
type PointerHandler struct {
	Engine *engine.Engine
	Router *Router

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	conn     *websocket.Conn
	clientID string
	pointer  *models.Pointer
	probeID  uint32
}

func (h *PointerHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	h.clientID = conn.Request().Header.Get(HeaderClientID)
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
}

func (h *PointerHandler) HandleRegister(ctx context.Context, respond ResponseSender) error {
	scene := h.Engine.Scene()

	pointer := &models.Pointer{ID: scene.NewPointerID()}
	scene.AddPointer(pointer)

	var probe *intersection.Probe
	err := h.Engine.Do(ctx, func(e *engine.Engine) {
		if ctx.Err() != nil {
			return
		}
		probe = e.RegisterProbe(pointer)
		h.Router.Register(probe.ID, respond)
	})
	if err != nil {
		// The command can still run after Do gave up waiting on it.
		h.Engine.Dispatch(func(e *engine.Engine) {
			unregisterPointerProbes(e, h.Router, pointer)
		})
		scene.RemovePointer(pointer)
		return err
	}

	h.pointer = pointer
	h.probeID = probe.ID

	respond.Send(Msg{
		Type:      MsgTypeRegistered,
		PointerID: pointer.ID,
		ProbeID:   probe.ID,
	})
	return nil
}

func (h *PointerHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(Msg{
		Type:      MsgTypePong,
		RequestID: msg.RequestID,
	})
	return nil
}

func (h *PointerHandler) HandlePose(ctx context.Context, respond ResponseSender, msg Msg) error {
	if h.pointer == nil {
		return errors.New("pointer not registered").
			WithType(ErrTypeNotRegistered).
			WithTag("msg_type", msg.TypeString())
	}

	if msg.Matrix == nil {
		h.pointer.ClearTransform()
		return nil
	}

	h.pointer.SetTransform(*msg.Matrix)
	return nil
}

func (h *PointerHandler) HandleActivate(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.setActive(ctx, true)
}

func (h *PointerHandler) HandleDeactivate(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.setActive(ctx, false)
}

func (h *PointerHandler) setActive(ctx context.Context, active bool) error {
	return h.Engine.Do(ctx, func(e *engine.Engine) {
		if p, ok := e.Probe(h.probeID); ok {
			p.SetActive(active)
		}
	})
}

func (h *PointerHandler) HandleGrab(ctx context.Context, respond ResponseSender, msg Msg) error {
	var entity *models.Entity
	err := h.Engine.Do(ctx, func(e *engine.Engine) {
		entity = e.GrabAndRemove(h.probeID)
	})
	if err != nil {
		return err
	}

	if entity == nil {
		respond.Send(ErrorMsg(msg.RequestID, errors.New("no entity to grab").
			WithType(ErrTypeNothingToGrab)))
		return nil
	}

	respond.Send(Msg{
		Type:       MsgTypeGrabbed,
		RequestID:  msg.RequestID,
		ProbeID:    h.probeID,
		EntityID:   entity.ID,
		EntityName: entity.Name,
	})
	return nil
}

func (h *PointerHandler) HandleRelease(ctx context.Context, respond ResponseSender, msg Msg) error {
	var entity *models.Entity
	err := h.Engine.Do(ctx, func(e *engine.Engine) {
		entity = e.Release(h.probeID)
	})
	if err != nil {
		return err
	}

	if entity == nil {
		respond.Send(ErrorMsg(msg.RequestID, errors.New("no entity grabbed").
			WithType(ErrTypeNothingGrabbed)))
		return nil
	}

	respond.Send(Msg{
		Type:       MsgTypeReleased,
		RequestID:  msg.RequestID,
		ProbeID:    h.probeID,
		EntityID:   entity.ID,
		EntityName: entity.Name,
	})
	return nil
}

func (h *PointerHandler) HandleDisconnect(_ error) {
	if h.pointer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()

	probeID := h.probeID
	err := h.Engine.Do(ctx, func(e *engine.Engine) {
		h.Router.Unregister(probeID)
		e.UnregisterProbe(probeID)
	})
	if err != nil {
		h.Router.Unregister(probeID)
		logs.WithTag(ClientIDTag, h.clientID).
			WithTag(intersection.ProbeIDTag, probeID).
			Warn(errors.New("unregistering probe failed").Wrap(err))
	}

	h.Engine.Scene().RemovePointer(h.pointer)
	h.pointer = nil
}

func unregisterPointerProbes(e *engine.Engine, router *Router, pointer *models.Pointer) {
	for _, p := range e.Probes() {
		if p.Transformer() == intersection.Transformer(pointer) {
			router.Unregister(p.ID)
			e.UnregisterProbe(p.ID)
		}
	}
}

func (h *PointerHandler) Receiver() Receiver {
	return NewReceiver(h.conn)
}

func (h *PointerHandler) Sender() Sender {
	return NewSender(h.conn)
}

func (h *PointerHandler) Close() {
}

func (h *PointerHandler) IdleTimeout() time.Duration {
	if h.ClientIdleTimeout <= 0 {
		return DefaultClientIdleTimeout
	}
	return h.ClientIdleTimeout
}

func (h *PointerHandler) GetClientID() string {
	return h.clientID
}

// PointerID returns the id of the pointer bound to the connection, or 0 when
// not registered.
func (h *PointerHandler) PointerID() uint32 {
	if h.pointer == nil {
		return 0
	}
	return h.pointer.ID
}

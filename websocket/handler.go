package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	ClientIDTag = "client_id"

	sendChanSize = 512
)

// Handler represents a pointer connection handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Creates the pointer and the probe bound to the connection.
	HandleRegister(ctx context.Context, respond ResponseSender) error

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a pointer pose update.
	HandlePose(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to activate the pointer probe.
	HandleActivate(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to deactivate the pointer probe.
	HandleDeactivate(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to grab the entity the probe points at.
	HandleGrab(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to release the grabbed entity.
	HandleRelease(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send messages to the client.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Get ClientID
	GetClientID() string
}

// Handle handles the given connection until it is closed or the context is
// done.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The pointer handler.
	Handler Handler

	sendChan       chan Msg
	receiveChan    chan Msg
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	responder := responseSender{
		ctx:      ctx,
		sendChan: h.sendChan,
	}

	if err := h.Handler.HandleRegister(ctx, responder); err != nil {
		h.disconnect(errors.New("registering pointer failed").Wrap(err))
	}

	h.receiveChan = make(chan Msg)
	h.receiver = h.Handler.Receiver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.handleDisconnect(ctx.Err())
			wg.Wait()
			return

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			// cancel context so go routines can cleanly exit
			cancel()
			wg.Wait()
			return
		}
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		msg, _, err := h.receiver()
		if errors.IsType(err, ErrTypeInvalidMsg) {
			logs.WithTag(ClientIDTag, h.Handler.GetClientID()).Debug(err)
			continue
		}
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, respond ResponseSender) error {
	var err error

	switch msg.Type {
	case MsgTypePing:
		err = h.Handler.HandlePing(ctx, respond, msg)

	case MsgTypePose:
		err = h.Handler.HandlePose(ctx, respond, msg)

	case MsgTypeActivate:
		err = h.Handler.HandleActivate(ctx, respond, msg)

	case MsgTypeDeactivate:
		err = h.Handler.HandleDeactivate(ctx, respond, msg)

	case MsgTypeGrab:
		err = h.Handler.HandleGrab(ctx, respond, msg)

	case MsgTypeRelease:
		err = h.Handler.HandleRelease(ctx, respond, msg)

	default:
		logs.WithTag(ClientIDTag, h.Handler.GetClientID()).
			WithTag("msg_type", msg.TypeString()).
			Debug("unknown message type skipped")
	}

	if errors.IsType(err, ErrTypeMsgSkip) {
		return nil
	}
	return err
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	ctx      context.Context
	sendChan chan Msg
}

func (r responseSender) Send(msg Msg) {
	select {
	case r.sendChan <- msg:
	case <-r.ctx.Done():
	}
}

func (r responseSender) TrySend(msg Msg) bool {
	if r.ctx.Err() != nil {
		return false
	}

	select {
	case r.sendChan <- msg:
		return true
	default:
		return false
	}
}

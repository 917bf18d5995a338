package websocket

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	PointerIDTag = "pointer_id"
	ProbeIDTag   = "probe_id"
)

func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	originalRequest *http.Request

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int

	pointerID atomic.Uint32
	probeID   atomic.Uint32
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	h.originalRequest = conn.Request()

	logs.WithTag(ClientIDTag, h.GetClientID()).
		WithTag("http_headers", struct {
			UserAgent     string `json:"user_agent,omitempty"`
			XForwardedFor string `json:"x_forwarded_for,omitempty"`
		}{
			UserAgent:     h.originalRequest.UserAgent(),
			XForwardedFor: h.originalRequest.Header.Get("X-Forwarded-For"),
		}).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleRegister(ctx context.Context, respond ResponseSender) error {
	err := h.Handler.HandleRegister(ctx, registrationSniffer{
		ResponseSender: respond,
		onRegistered: func(msg Msg) {
			h.pointerID.Store(msg.PointerID)
			h.probeID.Store(msg.ProbeID)
		},
	})
	if err != nil {
		return err
	}

	logs.WithTag(ClientIDTag, h.GetClientID()).
		WithTag(PointerIDTag, h.pointerID.Load()).
		WithTag(ProbeIDTag, h.probeID.Load()).
		Info("pointer registered")
	return nil
}

func (h *handlerWithLogs) HandleGrab(ctx context.Context, respond ResponseSender, msg Msg) error {
	if err := h.Handler.HandleGrab(ctx, respond, msg); err != nil {
		return err
	}

	logs.WithTag(ClientIDTag, h.GetClientID()).
		WithTag(ProbeIDTag, h.probeID.Load()).
		WithTag("request_id", msg.RequestID).
		Debug("grab handled")
	return nil
}

func (h *handlerWithLogs) HandleRelease(ctx context.Context, respond ResponseSender, msg Msg) error {
	if err := h.Handler.HandleRelease(ctx, respond, msg); err != nil {
		return err
	}

	logs.WithTag(ClientIDTag, h.GetClientID()).
		WithTag(ProbeIDTag, h.probeID.Load()).
		WithTag("request_id", msg.RequestID).
		Debug("release handled")
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithTag(ClientIDTag, h.GetClientID()).
		WithTag(PointerIDTag, h.pointerID.Load()).
		WithTag(ProbeIDTag, h.probeID.Load())
	if err != nil {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !stderrors.Is(err, io.EOF) && !stderrors.Is(err, net.ErrClosed) {
			logs.WithTag(ClientIDTag, h.GetClientID()).
				WithTag(PointerIDTag, h.pointerID.Load()).
				WithTag(ProbeIDTag, h.probeID.Load()).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag(ClientIDTag, h.GetClientID()).
				WithTag(PointerIDTag, h.pointerID.Load()).
				WithTag("msg_type", msg.TypeString()).
				Debug("message received")
			h.incCounter(msg.TypeString())
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := sender(msg)
		if err != nil && !stderrors.Is(err, net.ErrClosed) {
			logs.WithTag(ClientIDTag, h.GetClientID()).
				WithTag(PointerIDTag, h.pointerID.Load()).
				WithTag("msg_type", msgType).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag(ClientIDTag, h.GetClientID()).
				WithTag(PointerIDTag, h.pointerID.Load()).
				WithTag("msg_type", msgType).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithTag(ClientIDTag, h.GetClientID()).
		WithTag(PointerIDTag, h.pointerID.Load()).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}

// registrationSniffer reports the registered message sent during a pointer
// registration.
type registrationSniffer struct {
	ResponseSender

	onRegistered func(Msg)
}

func (s registrationSniffer) Send(msg Msg) {
	if msg.Type == MsgTypeRegistered {
		s.onRegistered(msg)
	}
	s.ResponseSender.Send(msg)
}

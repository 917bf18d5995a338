package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/kenaz/engine"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/intersection"
	"github.com/aukilabs/kenaz/models"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type testSender struct {
	mutex sync.Mutex
	msgs  []Msg
	full  bool
}

func (s *testSender) Send(msg Msg) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.msgs = append(s.msgs, msg)
}

func (s *testSender) TrySend(msg Msg) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.full {
		return false
	}
	s.msgs = append(s.msgs, msg)
	return true
}

func newTestEngine(t *testing.T, router *Router) *engine.Engine {
	scene := models.NewScene("websocket")
	scene.AddEntity(models.NewEntity(scene.NewEntityID(), "cube", geometry.NewBoundsFromCenter(
		mgl32.Vec3{0, 0, 2},
		mgl32.Vec3{0.5, 0.5, 0.5},
	)))

	eng := engine.New(scene, engine.Options{
		Listener: router,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx, time.Millisecond)
	t.Cleanup(cancel)

	require.Eventually(t, eng.Bootstrapped, time.Second, time.Millisecond)
	return eng
}

func send(t *testing.T, conn *websocket.Conn, msg Msg) {
	require.NoError(t, JSON.Send(conn, msg))
}

func sendPose(t *testing.T, conn *websocket.Conn, m mgl32.Mat4) {
	send(t, conn, Msg{Type: MsgTypePose, Matrix: &m})
}

// receive returns the first message of the given type, skipping others.
func receive(t *testing.T, conn *websocket.Conn, msgType MsgType) Msg {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	defer conn.SetReadDeadline(time.Time{})

	for {
		var msg Msg
		require.NoError(t, JSON.Receive(conn, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestRouter(t *testing.T) {
	router := &Router{}
	a := &testSender{}
	b := &testSender{full: true}

	router.Register(1, a)
	router.Register(2, b)
	require.Equal(t, 2, router.Len())

	entity := models.NewEntity(7, "seven", geometry.NewBounds(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}))
	probeA := intersection.NewProbe(1, &models.Pointer{}, 1, 0.1)
	probeB := intersection.NewProbe(2, &models.Pointer{}, 1, 0.1)
	probeC := intersection.NewProbe(3, &models.Pointer{}, 1, 0.1)

	router.OnEnter(probeA, entity)
	router.OnStay(probeA, entity)
	router.OnExit(probeA, entity)
	router.OnEnter(probeB, entity)
	router.OnEnter(probeC, entity)

	require.Equal(t, []Msg{
		{Type: MsgTypeEnter, ProbeID: 1, EntityID: 7, EntityName: "seven"},
		{Type: MsgTypeExit, ProbeID: 1, EntityID: 7, EntityName: "seven"},
	}, a.msgs)
	require.Empty(t, b.msgs)

	router.StayEvents = true
	router.OnStay(probeA, entity)
	require.Len(t, a.msgs, 3)
	require.Equal(t, MsgTypeStay, a.msgs[2].Type)

	router.Unregister(1)
	router.OnEnter(probeA, entity)
	require.Len(t, a.msgs, 3)
	require.Equal(t, 1, router.Len())
}

func TestResponseSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := responseSender{
		ctx:      ctx,
		sendChan: make(chan Msg, 1),
	}

	require.True(t, r.TrySend(Msg{Type: MsgTypeEnter}))
	require.False(t, r.TrySend(Msg{Type: MsgTypeExit}))

	cancel()
	<-r.sendChan
	require.False(t, r.TrySend(Msg{Type: MsgTypeExit}))

	// Send returns once the context is done.
	r.sendChan <- Msg{}
	r.Send(Msg{Type: MsgTypePong})
}

func TestPointerSession(t *testing.T) {
	router := &Router{}
	eng := newTestEngine(t, router)

	dial, close := NewTestingEnv(t, newTestHandler(eng, router))
	defer close()

	conn := dial()

	registered := receive(t, conn, MsgTypeRegistered)
	require.NotZero(t, registered.PointerID)
	require.NotZero(t, registered.ProbeID)
	require.Equal(t, 1, eng.Scene().PointerCount())

	send(t, conn, Msg{Type: MsgTypePing, RequestID: 1})
	pong := receive(t, conn, MsgTypePong)
	require.Equal(t, uint32(1), pong.RequestID)

	t.Run("enter", func(t *testing.T) {
		sendPose(t, conn, mgl32.Ident4())

		enter := receive(t, conn, MsgTypeEnter)
		require.Equal(t, registered.ProbeID, enter.ProbeID)
		require.Equal(t, "cube", enter.EntityName)
	})

	t.Run("grab and release", func(t *testing.T) {
		send(t, conn, Msg{Type: MsgTypeGrab, RequestID: 2})
		grabbed := receive(t, conn, MsgTypeGrabbed)
		require.Equal(t, uint32(2), grabbed.RequestID)
		require.Equal(t, "cube", grabbed.EntityName)

		send(t, conn, Msg{Type: MsgTypeGrab, RequestID: 3})
		failed := receive(t, conn, MsgTypeError)
		require.Equal(t, uint32(3), failed.RequestID)
		require.Equal(t, ErrTypeNothingToGrab, failed.ErrorType)

		send(t, conn, Msg{Type: MsgTypeRelease, RequestID: 4})
		released := receive(t, conn, MsgTypeReleased)
		require.Equal(t, uint32(4), released.RequestID)

		enter := receive(t, conn, MsgTypeEnter)
		require.Equal(t, "cube", enter.EntityName)
	})

	t.Run("release without grab", func(t *testing.T) {
		send(t, conn, Msg{Type: MsgTypeRelease, RequestID: 5})
		failed := receive(t, conn, MsgTypeError)
		require.Equal(t, ErrTypeNothingGrabbed, failed.ErrorType)
	})

	t.Run("exit", func(t *testing.T) {
		sendPose(t, conn, mgl32.Translate3D(10, 0, 0))

		exit := receive(t, conn, MsgTypeExit)
		require.Equal(t, "cube", exit.EntityName)
	})

	t.Run("disconnect", func(t *testing.T) {
		conn.Close()

		require.Eventually(t, func() bool {
			return eng.Scene().PointerCount() == 0 && router.Len() == 0
		}, time.Second, 10*time.Millisecond)

		var probes int
		require.NoError(t, eng.Do(context.Background(), func(e *engine.Engine) {
			probes = len(e.Probes())
		}))
		require.Zero(t, probes)
	})
}

func TestPointerGrabExclusivity(t *testing.T) {
	router := &Router{}
	eng := newTestEngine(t, router)

	dial, close := NewTestingEnv(t, newTestHandler(eng, router))
	defer close()

	a := dial()
	receive(t, a, MsgTypeRegistered)
	b := dial()
	receive(t, b, MsgTypeRegistered)

	sendPose(t, a, mgl32.Ident4())
	receive(t, a, MsgTypeEnter)
	sendPose(t, b, mgl32.Translate3D(0.1, 0, 0))
	receive(t, b, MsgTypeEnter)

	send(t, a, Msg{Type: MsgTypeGrab, RequestID: 1})
	receive(t, a, MsgTypeGrabbed)

	exit := receive(t, b, MsgTypeExit)
	require.Equal(t, "cube", exit.EntityName)

	send(t, b, Msg{Type: MsgTypeGrab, RequestID: 1})
	failed := receive(t, b, MsgTypeError)
	require.Equal(t, ErrTypeNothingToGrab, failed.ErrorType)

	a.Close()

	// Disconnecting releases the grabbed entity.
	require.Eventually(t, func() bool {
		return eng.Scene().PointerCount() == 1
	}, time.Second, 10*time.Millisecond)

	sendPose(t, b, mgl32.Translate3D(0.1, 0.1, 0))
	enter := receive(t, b, MsgTypeEnter)
	require.Equal(t, "cube", enter.EntityName)
}

func TestPointerDeactivate(t *testing.T) {
	router := &Router{}
	eng := newTestEngine(t, router)

	dial, close := NewTestingEnv(t, newTestHandler(eng, router))
	defer close()

	conn := dial()
	receive(t, conn, MsgTypeRegistered)

	sendPose(t, conn, mgl32.Ident4())
	receive(t, conn, MsgTypeEnter)

	send(t, conn, Msg{Type: MsgTypeDeactivate})
	receive(t, conn, MsgTypeExit)

	send(t, conn, Msg{Type: MsgTypeActivate})
	sendPose(t, conn, mgl32.Translate3D(0, 0.1, 0))
	receive(t, conn, MsgTypeEnter)
}

func TestPointerEngineStopped(t *testing.T) {
	router := &Router{}
	eng := engine.New(models.NewScene("stopped"), engine.Options{Listener: router})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng.Run(ctx, time.Millisecond)

	dial, close := NewTestingEnv(t, newTestHandler(eng, router))
	defer close()

	conn := dial()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg Msg
	require.Error(t, JSON.Receive(conn, &msg))
	require.Zero(t, eng.Scene().PointerCount())
}

func TestPointerRegisterCancelled(t *testing.T) {
	router := &Router{}
	eng := engine.New(models.NewScene("register"), engine.Options{Listener: router})

	t.Run("queued registration is skipped", func(t *testing.T) {
		h := &PointerHandler{Engine: eng, Router: router}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := h.HandleRegister(ctx, &testSender{})
		require.Error(t, err)
		require.Zero(t, eng.Scene().PointerCount())

		eng.Tick()
		require.Empty(t, eng.Probes())
		require.Zero(t, router.Len())
	})

	t.Run("late probes of the pointer are unregistered", func(t *testing.T) {
		pointer := &models.Pointer{ID: 1}
		other := &models.Pointer{ID: 2}

		late := eng.RegisterProbe(pointer)
		router.Register(late.ID, &testSender{})
		kept := eng.RegisterProbe(other)
		router.Register(kept.ID, &testSender{})

		unregisterPointerProbes(eng, router, pointer)

		probes := eng.Probes()
		require.Len(t, probes, 1)
		require.Equal(t, kept.ID, probes[0].ID)
		require.Equal(t, 1, router.Len())
	})
}

func TestMsgTypeString(t *testing.T) {
	require.Equal(t, "unknown", Msg{}.TypeString())
	require.Equal(t, "pose", Msg{Type: MsgTypePose}.TypeString())
}

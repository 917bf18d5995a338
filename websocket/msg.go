package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeMsgSkip        = "msg-skip"
	ErrTypeInvalidMsg     = "invalid-msg"
	ErrTypeNotRegistered  = "pointer-not-registered"
	ErrTypeNothingToGrab  = "nothing-to-grab"
	ErrTypeNothingGrabbed = "nothing-grabbed"
)

// MsgType identifies a message exchanged with a pointer client.
type MsgType string

// Client messages.
const (
	MsgTypePing       MsgType = "ping"
	MsgTypePose       MsgType = "pose"
	MsgTypeActivate   MsgType = "activate"
	MsgTypeDeactivate MsgType = "deactivate"
	MsgTypeGrab       MsgType = "grab"
	MsgTypeRelease    MsgType = "release"
)

// Server messages.
const (
	MsgTypePong       MsgType = "pong"
	MsgTypeRegistered MsgType = "registered"
	MsgTypeEnter      MsgType = "enter"
	MsgTypeStay       MsgType = "stay"
	MsgTypeExit       MsgType = "exit"
	MsgTypeGrabbed    MsgType = "grabbed"
	MsgTypeReleased   MsgType = "released"
	MsgTypeError      MsgType = "error"
)

// Msg is a JSON message. Fields that do not apply to a type are omitted.
type Msg struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id,omitempty"`

	PointerID  uint32 `json:"pointer_id,omitempty"`
	ProbeID    uint32 `json:"probe_id,omitempty"`
	EntityID   uint32 `json:"entity_id,omitempty"`
	EntityName string `json:"entity_name,omitempty"`

	// The pointer pose as a column-major 4x4 matrix. A pose message without
	// a matrix clears the pointer transform.
	Matrix *mgl32.Mat4 `json:"matrix,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return string(m.Type)
}

// ErrorMsg returns the error message answering the given request.
func ErrorMsg(requestID uint32, err error) Msg {
	return Msg{
		Type:      MsgTypeError,
		RequestID: requestID,
		Error:     err.Error(),
		ErrorType: errors.Type(err),
	}
}

// A function that receives a message. The returned int is the number of
// bytes read.
type Receiver func() (Msg, int, error)

// A function that sends a message. The returned int is the number of bytes
// written.
type Sender func(Msg) (int, error)

// ResponseSender sends messages to the connected client.
type ResponseSender interface {
	// Queues the message, waiting for room in the send queue.
	Send(Msg)

	// Queues the message without waiting. It returns false when the message
	// is dropped.
	TrySend(Msg) bool
}

// JSON is a codec that sends and receives messages as JSON text frames.
var JSON = websocket.Codec{
	Marshal:   marshalJSON,
	Unmarshal: unmarshalJSON,
}

func marshalJSON(v any) ([]byte, byte, error) {
	b, err := json.Marshal(v)
	return b, websocket.TextFrame, err
}

func unmarshalJSON(data []byte, payloadType byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("decoding message failed").
			WithType(ErrTypeInvalidMsg).
			WithTag("payload_type", payloadType).
			Wrap(err)
	}
	return nil
}

// NewReceiver returns a receiver reading JSON messages from the connection.
func NewReceiver(conn *websocket.Conn) Receiver {
	return func() (Msg, int, error) {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := unmarshalJSON(data, websocket.TextFrame, &msg); err != nil {
			return Msg{}, len(data), err
		}
		return msg, len(data), nil
	}
}

// NewSender returns a sender writing JSON messages to the connection.
func NewSender(conn *websocket.Conn) Sender {
	return func(msg Msg) (int, error) {
		b, _, err := marshalJSON(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").
				WithTag("msg_type", msg.TypeString()).
				Wrap(err)
		}

		if err := websocket.Message.Send(conn, string(b)); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}

package kernelmsg

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the messaging protocol version stamped on new headers.
const ProtocolVersion = "5.3"

// Channel names a kernel socket.
type Channel string

const (
	ChannelShell   Channel = "shell"
	ChannelIOPub   Channel = "iopub"
	ChannelControl Channel = "control"
	ChannelStdin   Channel = "stdin"
)

// Direction tells whether a message left the client or arrived from the
// kernel.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Message types consumed or produced by the dashboard.
const (
	TypeCommMsg        = "comm_msg"
	TypeStatus         = "status"
	TypeExecuteRequest = "execute_request"
	TypeExecuteReply   = "execute_reply"
	TypeExecuteInput   = "execute_input"
	TypeExecuteResult  = "execute_result"
	TypeDisplayData    = "display_data"
	TypeUpdateDisplay  = "update_display_data"
	TypeStream         = "stream"
	TypeError          = "error"
	TypeClearOutput    = "clear_output"
	TypeKernelInfo     = "kernel_info_request"
)

// Comm data methods.
const (
	MethodUpdate     = "update"
	MethodEchoUpdate = "echo_update"
)

// Kernel execution states carried by status messages.
const (
	StateBusy     = "busy"
	StateIdle     = "idle"
	StateStarting = "starting"
)

// Header identifies one message.
type Header struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Date     string `json:"date"`
	Version  string `json:"version"`
}

// Message is one kernel protocol message in the websocket JSON framing.
// ParentHeader is the zero Header when the kernel sends "{}".
type Message struct {
	Channel      Channel           `json:"channel"`
	Header       Header            `json:"header"`
	ParentHeader Header            `json:"parent_header"`
	Metadata     map[string]any    `json:"metadata"`
	Content      json.RawMessage   `json:"content"`
	Buffers      []json.RawMessage `json:"buffers,omitempty"`
}

// AnyMessage is a message observed on a connection along with its direction.
type AnyMessage struct {
	Direction Direction
	Msg       *Message
}

// New builds a message with a fresh uuid msg_id.
func New(channel Channel, msgType, session string, content any) (*Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode %s content: %w", msgType, err)
	}
	return &Message{
		Channel: channel,
		Header: Header{
			MsgID:    uuid.NewString(),
			MsgType:  msgType,
			Session:  session,
			Username: "mercury",
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			Version:  ProtocolVersion,
		},
		Metadata: map[string]any{},
		Content:  raw,
	}, nil
}

// Reply builds a message whose parent header is parent's header.
func Reply(parent *Message, channel Channel, msgType string, content any) (*Message, error) {
	m, err := New(channel, msgType, parent.Header.Session, content)
	if err != nil {
		return nil, err
	}
	m.ParentHeader = parent.Header
	return m, nil
}

// Type returns the header's msg_type.
func (m *Message) Type() string { return m.Header.MsgType }

// ParentID returns the parent header's msg_id, or "" when there is none.
func (m *Message) ParentID() string { return m.ParentHeader.MsgID }

// Decode unmarshals the content into v.
func (m *Message) Decode(v any) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("%s: empty content", m.Header.MsgType)
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("%s: decode content: %w", m.Header.MsgType, err)
	}
	return nil
}

// CommData is the data field of a comm_msg.
type CommData struct {
	Method string                     `json:"method,omitempty"`
	State  map[string]json.RawMessage `json:"state,omitempty"`
}

// CommMsg is the content of a comm_msg.
type CommMsg struct {
	CommID string   `json:"comm_id"`
	Data   CommData `json:"data"`
}

// Status is the content of a status message.
type Status struct {
	ExecutionState string `json:"execution_state"`
}

// ExecuteRequest is the content of an execute_request.
type ExecuteRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// ExecuteReply is the content of an execute_reply.
type ExecuteReply struct {
	Status         string   `json:"status"`
	ExecutionCount *int     `json:"execution_count,omitempty"`
	EName          string   `json:"ename,omitempty"`
	EValue         string   `json:"evalue,omitempty"`
	Traceback      []string `json:"traceback,omitempty"`
}

// Stream is the content of a stream message.
type Stream struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DisplayData is the content of display_data and update_display_data.
type DisplayData struct {
	Data      map[string]json.RawMessage `json:"data"`
	Metadata  map[string]any             `json:"metadata,omitempty"`
	Transient map[string]any             `json:"transient,omitempty"`
}

// ExecuteResult is the content of an execute_result.
type ExecuteResult struct {
	ExecutionCount *int                       `json:"execution_count"`
	Data           map[string]json.RawMessage `json:"data"`
	Metadata       map[string]any             `json:"metadata,omitempty"`
}

// Error is the content of an error message.
type Error struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// ClearOutput is the content of a clear_output message.
type ClearOutput struct {
	Wait bool `json:"wait"`
}

// CommMsg decodes the content of a comm_msg. ok is false for any other
// message type or undecodable content.
func (m *Message) CommMsg() (CommMsg, bool) {
	var c CommMsg
	if m.Header.MsgType != TypeCommMsg || m.Decode(&c) != nil {
		return CommMsg{}, false
	}
	return c, true
}

// Status decodes the content of a status message.
func (m *Message) Status() (Status, bool) {
	var s Status
	if m.Header.MsgType != TypeStatus || m.Decode(&s) != nil {
		return Status{}, false
	}
	return s, true
}

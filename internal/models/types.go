package models

import (
	"github.com/google/uuid"
)

// DefaultChannel names the logical bridge instance clients talk to.
const DefaultChannel = "com.attendo/bluetooth"

// EventType represents different types of events that can be emitted
type EventType string

const (
	EventTypeBluetoothNameSet EventType = "bluetooth_name_set"
	EventTypeServerShutdown   EventType = "server_shutdown"
)

// Method is the name of a remote call carried over the bridge.
type Method string

const (
	MethodSetBluetoothName Method = "setBluetoothName"
	MethodGetBluetoothName Method = "getBluetoothName"
)

// SupportedMethods lists the methods the bridge implements, in the order
// they are advertised to clients.
var SupportedMethods = []Method{
	MethodSetBluetoothName,
	MethodGetBluetoothName,
}

// MethodCall is a single request crossing the bridge. It is consumed once
// and discarded after the handler returns.
type MethodCall struct {
	Method    string                 `json:"method"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Argument returns the named argument and whether it was supplied.
func (c MethodCall) Argument(key string) (interface{}, bool) {
	if c.Arguments == nil {
		return nil, false
	}
	v, ok := c.Arguments[key]
	return v, ok
}

// StringArgument returns the named argument if it is a string.
func (c MethodCall) StringArgument(key string) (string, bool) {
	v, ok := c.Argument(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Result is what the handler hands back for a call: either a value
// (which may itself be nil) or the not-implemented signal.
type Result struct {
	NotImplemented bool
	Value          interface{}
}

// Success wraps a value, nil included.
func Success(value interface{}) Result {
	return Result{Value: value}
}

// NotImplemented signals that the bridge does not know the method.
func NotImplemented() Result {
	return Result{NotImplemented: true}
}

// Message types for WebSocket communication

// CallMessage represents a call from client to bridge
type CallMessage struct {
	MessageID string                 `json:"message_id"`
	Method    string                 `json:"method"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Call strips the transport envelope.
func (m CallMessage) Call() MethodCall {
	return MethodCall{Method: m.Method, Arguments: m.Arguments}
}

// ResultMessageBase is the base for result messages
type ResultMessageBase struct {
	MessageID string `json:"message_id"`
}

// SuccessResultMessage is sent when a call produced a value. Result is
// always serialized, so a nil value reaches the client as null.
type SuccessResultMessage struct {
	ResultMessageBase
	Result interface{} `json:"result"`
}

// NotImplementedMessage is sent for methods the bridge does not support.
// It carries no result payload.
type NotImplementedMessage struct {
	ResultMessageBase
	NotImplemented bool `json:"not_implemented"`
}

// ErrorResultMessage is sent when a frame could not be processed at all
type ErrorResultMessage struct {
	ResultMessageBase
	ErrorCode int     `json:"error_code"`
	Details   *string `json:"details,omitempty"`
}

// ResponseFor builds the wire message for a handler result.
func ResponseFor(messageID string, r Result) interface{} {
	base := ResultMessageBase{MessageID: messageID}
	if r.NotImplemented {
		return NotImplementedMessage{ResultMessageBase: base, NotImplemented: true}
	}
	return SuccessResultMessage{ResultMessageBase: base, Result: r.Value}
}

// EventMessage is sent for stateless events
type EventMessage struct {
	Event EventType   `json:"event"`
	Data  interface{} `json:"data"`
}

// NameSetEvent is the payload of EventTypeBluetoothNameSet.
type NameSetEvent struct {
	Adapter string `json:"adapter"`
	Name    string `json:"name"`
}

// BridgeInfoMessage is sent to every client right after it connects
type BridgeInfoMessage struct {
	Channel         string   `json:"channel"`
	Version         string   `json:"version"`
	Methods         []Method `json:"methods"`
	PlatformVersion string   `json:"platform_version,omitempty"`
	PermissionGated bool     `json:"permission_gated"`
}

// InvokeResponse is the body of a successful HTTP invoke.
type InvokeResponse struct {
	Result interface{} `json:"result"`
}

// InvokeNotImplemented is the body of an HTTP invoke for an unknown method.
type InvokeNotImplemented struct {
	NotImplemented bool `json:"not_implemented"`
}

// EventCallback is a function type for event callbacks
type EventCallback func(eventType EventType, data interface{})

// GenerateMessageID generates a new message ID
func GenerateMessageID() string {
	return uuid.New().String()
}

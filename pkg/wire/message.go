// Package wire defines the framed message protocol spoken on every
// persistent connection: RPC frames (GET/POST/PUT/DELETE) and pub/sub
// control frames (PUB/SUB/UNSUB) share one JSON envelope.
package wire

import (
	"encoding/json"
)

// Method identifies what a frame does.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPub    Method = "PUB"
	MethodSub    Method = "SUB"
	MethodUnsub  Method = "UNSUB"
)

// IsRPC reports whether the method expects a correlated response frame.
func (m Method) IsRPC() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return true
	}
	return false
}

// Message is the envelope for every frame on the connection.
//
// Requests carry id, method, path and optionally query and data. Responses
// echo the request id and carry either data or error. Topic pushes use
// method PUB with the topic in path and the event in data. Params is filled
// by the server from :param segments before a handler runs.
type Message struct {
	ID     string            `json:"id,omitempty"`
	Method Method            `json:"method,omitempty"`
	Path   string            `json:"path,omitempty"`
	Query  map[string]string `json:"query,omitempty"`
	Data   json.RawMessage   `json:"data,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Error  *ErrorPayload     `json:"error,omitempty"`
}

// ErrorPayload carries a failed response.
type ErrorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewRequest creates an RPC request frame.
func NewRequest(id string, method Method, path string, data interface{}) (*Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:     id,
		Method: method,
		Path:   path,
		Data:   raw,
	}, nil
}

// NewResponse creates a success response for the given request id.
func NewResponse(id string, data interface{}) (*Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:   id,
		Data: raw,
	}, nil
}

// NewErrorMessage creates an error response for the given request id.
func NewErrorMessage(id, code, message string) *Message {
	return &Message{
		ID: id,
		Error: &ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// NewPublish creates a topic push frame.
func NewPublish(path string, data interface{}) (*Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Method: MethodPub,
		Path:   path,
		Data:   raw,
	}, nil
}

// NewSubscribe creates a subscription control frame.
func NewSubscribe(id, path string) *Message {
	return &Message{ID: id, Method: MethodSub, Path: path}
}

// NewUnsubscribe creates an unsubscription control frame.
func NewUnsubscribe(id, path string) *Message {
	return &Message{ID: id, Method: MethodUnsub, Path: path}
}

// ParseData parses the frame data into the given struct.
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Param returns the bound value of a :param segment, or "".
func (m *Message) Param(name string) string {
	if m.Params == nil {
		return ""
	}
	return m.Params[name]
}

// IsError reports whether the frame carries an error payload.
func (m *Message) IsError() bool {
	return m.Error != nil
}

func marshalData(data interface{}) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

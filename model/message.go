package model

import (
	"net/http"
	"time"
)

type MessageKind string

const (
	KindRequest  MessageKind = "request"
	KindResponse MessageKind = "response"
	KindError    MessageKind = "error"
	KindData     MessageKind = "data"
)

type Message struct {
	ID        MessageID
	FlowID    FlowID
	Kind      MessageKind
	Timestamp time.Time
	Data      any
	Metadata  Metadata

	// Body holds the captured payload for filter evaluation. It is not
	// persisted; artifacts carry the content instead.
	Body []byte `json:"-"`
}

func NewMessage(flow *Flow, kind MessageKind, data any) *Message {
	return &Message{
		ID:        NewMessageID(),
		FlowID:    flow.ID,
		Kind:      kind,
		Timestamp: time.Now(),
		Data:      data,
	}
}

type HTTPRequest struct {
	Method        string      `json:"method"`
	URL           string      `json:"url"`
	Proto         string      `json:"proto"`
	Header        http.Header `json:"header,omitempty"`
	ContentLength int64       `json:"content_length"`
	BodySize      int64       `json:"body_size"`
	Truncated     bool        `json:"truncated,omitempty"`
}

type HTTPResponse struct {
	Proto         string      `json:"proto"`
	StatusCode    int         `json:"status_code"`
	Status        string      `json:"status"`
	Header        http.Header `json:"header,omitempty"`
	ContentLength int64       `json:"content_length"`
	BodySize      int64       `json:"body_size"`
	Truncated     bool        `json:"truncated,omitempty"`
}

type Failure struct {
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason"`
}

type ByteCount struct {
	Upload   int64 `json:"upload"`
	Download int64 `json:"download"`
}

func (m *Message) Header() http.Header {
	switch data := m.Data.(type) {
	case *HTTPRequest:
		return data.Header
	case *HTTPResponse:
		return data.Header
	}
	return nil
}

// MimeType returns the media type of the message body without parameters.
func (m *Message) MimeType() string {
	header := m.Header()
	if header == nil {
		return ""
	}
	return MediaType(header.Get("Content-Type"))
}

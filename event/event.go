package event

import (
	"context"
	"io"
	"net/http"
)

type Header interface {
	Get(key string) string
	Set(key string, value string)
	Keys() []string
}

type Event interface {
	Header() Header
	Key() string
	Value() []byte
}

type Producer interface {
	io.Closer
	Send(ctx context.Context, msg Event) error
	BatchSend(ctx context.Context, msg []Event) error
}

type headerCarrier http.Header

func (hc headerCarrier) Get(key string) string {
	return http.Header(hc).Get(key)
}

func (hc headerCarrier) Set(key string, value string) {
	http.Header(hc).Set(key, value)
}

func (hc headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc))
	for k := range http.Header(hc) {
		keys = append(keys, k)
	}
	return keys
}

// Message is the plain Event implementation.
type Message struct {
	header headerCarrier
	key    string
	value  []byte
}

var _ Event = (*Message)(nil)

func NewMessage(key string, value []byte) *Message {
	return &Message{
		key:    key,
		value:  value,
		header: headerCarrier{},
	}
}

func (m *Message) Key() string {
	return m.key
}

func (m *Message) Header() Header {
	return m.header
}

func (m *Message) Value() []byte {
	return m.value
}

package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"

	"github.com/rdeforest/ClodWeave/internal/envelope"
)

const (
	headerEncoding = "Content-Encoding"
	encodingZstd   = "zstd"
)

// Transport carries envelopes between runtimes over NATS. Each runtime
// listens on its own inbox subject; NATS delivers a subscription's messages
// in order, which keeps per-pair send order. Payloads at or above the
// compression threshold are zstd-compressed.
type Transport struct {
	client    *Client
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewTransport returns a transport over client. A threshold <= 0 disables
// compression.
func NewTransport(client *Client, compressThreshold int) (*Transport, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Transport{
		client:    client,
		threshold: compressThreshold,
		enc:       enc,
		dec:       dec,
		subs:      make(map[string]*nats.Subscription),
	}, nil
}

// Bind subscribes deliver to id's inbox. The id must be a single literal
// subject token, so one endpoint can never observe another's traffic.
func (t *Transport) Bind(id string, deliver envelope.DeliverFunc) (func(), error) {
	if err := checkToken(id); err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[id]; ok {
		return nil, fmt.Errorf("endpoint %s already bound", id)
	}

	sub, err := t.client.Subscribe(TopicComponentInbox(id), func(msg *nats.Msg) {
		env, err := t.decode(msg)
		if err != nil {
			slog.Warn("dropping undecodable envelope", "component", id, "error", err)
			return
		}
		if err := deliver(context.Background(), env); err != nil {
			slog.Warn("envelope not delivered", "component", id, "method", env.Method, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}
	t.subs[id] = sub

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.subs[id] == sub {
			delete(t.subs, id)
			_ = sub.Unsubscribe()
		}
	}, nil
}

func (t *Transport) Send(_ context.Context, env *envelope.Envelope) error {
	if err := checkToken(env.Meta.Target); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(TopicComponentInbox(env.Meta.Target))
	if t.threshold > 0 && len(data) >= t.threshold {
		msg.Header.Set(headerEncoding, encodingZstd)
		data = t.enc.EncodeAll(data, nil)
	}
	msg.Data = data

	if err := t.client.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", env.Meta.Target, err)
	}
	return nil
}

func (t *Transport) decode(msg *nats.Msg) (*envelope.Envelope, error) {
	data := msg.Data
	if msg.Header.Get(headerEncoding) == encodingZstd {
		var err error
		data, err = t.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}
	return envelope.Decode(data)
}

// Close unsubscribes every endpoint and releases the codecs.
func (t *Transport) Close() {
	t.mu.Lock()
	for id, sub := range t.subs {
		_ = sub.Unsubscribe()
		delete(t.subs, id)
	}
	t.mu.Unlock()

	t.enc.Close()
	t.dec.Close()
}

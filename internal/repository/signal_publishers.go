package repository

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"PatternMemory/internal/domain/models"
	domrepo "PatternMemory/internal/domain/repository"
	pkghttp "PatternMemory/pkg/http"
	pkgkafka "PatternMemory/pkg/kafka"
)

// KafkaSignalPublisher writes signals as JSON keyed by symbol, so one symbol's
// signals stay ordered on one partition.
type KafkaSignalPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaSignalPublisher(p *pkgkafka.Producer, topic string) *KafkaSignalPublisher {
	return &KafkaSignalPublisher{producer: p, topic: topic}
}

func (k *KafkaSignalPublisher) Publish(ctx context.Context, s *models.Signal) error {
	return k.producer.Publish(ctx, k.topic, []byte(s.Symbol), s)
}

// Close leaves the producer open; it is shared and closed by its owner.
func (k *KafkaSignalPublisher) Close() error { return nil }

// WebhookPublisher POSTs each signal to a fixed URL.
type WebhookPublisher struct {
	client *pkghttp.Client
	url    string
}

func NewWebhookPublisher(client *pkghttp.Client, url string) *WebhookPublisher {
	return &WebhookPublisher{client: client, url: url}
}

func (w *WebhookPublisher) Publish(ctx context.Context, s *models.Signal) error {
	err := w.client.Do(ctx, &pkghttp.RequestOptions{
		Method:  http.MethodPost,
		URL:     w.url,
		Headers: map[string]string{"X-Signal-Symbol": s.Symbol},
		Body:    s,
	}, nil)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (w *WebhookPublisher) Close() error { return nil }

// ChannelPublisher hands signals to in-process consumers. Publish blocks until
// the reader takes the signal or ctx ends.
type ChannelPublisher struct {
	mu     sync.RWMutex
	ch     chan *models.Signal
	closed bool
}

func NewChannelPublisher(size int) *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan *models.Signal, size)}
}

func (c *ChannelPublisher) Signals() <-chan *models.Signal { return c.ch }

func (c *ChannelPublisher) Publish(ctx context.Context, s *models.Signal) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("channel publisher closed")
	}
	select {
	case c.ch <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ChannelPublisher) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}

var (
	_ domrepo.SignalPublisher = (*KafkaSignalPublisher)(nil)
	_ domrepo.SignalPublisher = (*WebhookPublisher)(nil)
	_ domrepo.SignalPublisher = (*ChannelPublisher)(nil)
)

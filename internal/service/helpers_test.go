package service

import (
	"context"
	"errors"
	"sync"

	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/internal/presence"
	"github.com/weiawesome/wes-io-talk/internal/presence/presencetest"
	"github.com/weiawesome/wes-io-talk/internal/repository"
	"github.com/weiawesome/wes-io-talk/pkg/log"
	"github.com/weiawesome/wes-io-talk/pkg/pubsub"
)

func init() {
	log.Nop()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*pubsub.Event
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, ev *pubsub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// failingRepo fails every write.
type failingRepo struct {
	*repository.MemoryMessageRepository
}

func (failingRepo) Save(context.Context, *domain.Message) (string, error) {
	return "", errors.New("connection refused")
}

type stubUploader struct {
	url string
	err error
}

func (u stubUploader) Upload(context.Context, string) (string, error) {
	return u.url, u.err
}

func connect(r *presence.Registry, userID string) *presencetest.Conn {
	c := presencetest.NewConn(userID)
	r.Register(c)
	c.Reset()
	return c
}

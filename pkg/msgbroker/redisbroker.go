package msgbroker

import (
	"github.com/go-redis/redis/v7"
	"github.com/labstack/gommon/log"
	"sync"
)

// redisBroker is the implementation of MessageBroker using Redis
type redisBroker struct {
	client *redis.Client
	pubSub *redis.PubSub
	sync.RWMutex
	handlers map[string]MessageHandler
}

// NewRedisBroker returns a implementation of MessageBroker using Redis
func NewRedisBroker(r *redis.Client) MessageBroker {
	rb := &redisBroker{
		client:   r,
		pubSub:   r.Subscribe(),
		handlers: make(map[string]MessageHandler),
	}
	go rb.serveMessages()
	return rb
}

func (rb *redisBroker) serveMessages() {
	for msg := range rb.pubSub.Channel() {
		rb.RLock()
		handler, exists := rb.handlers[msg.Pattern]
		rb.RUnlock()
		if !exists {
			log.Debugf("no handler for pattern %q", msg.Pattern)
			continue
		}
		handler(&Message{
			Channel: msg.Channel,
			Data:    []byte(msg.Payload),
		})
	}
}

func (rb *redisBroker) Close() error {
	return rb.pubSub.Close()
}

func (rb *redisBroker) Publish(msg []byte, channel string) error {
	return rb.client.Publish(channel, string(msg)).Err()
}

func (rb *redisBroker) Subscribe(pattern string, cb MessageHandler) error {
	rb.Lock()
	rb.handlers[pattern] = cb
	rb.Unlock()
	err := rb.pubSub.PSubscribe(pattern)
	if err != nil {
		rb.Lock()
		delete(rb.handlers, pattern)
		rb.Unlock()
	}
	return err
}

func (rb *redisBroker) Unsubscribe(patterns ...string) error {
	if len(patterns) > 0 {
		rb.Lock()
		for _, ch := range patterns {
			delete(rb.handlers, ch)
		}
		rb.Unlock()
		return rb.pubSub.PUnsubscribe(patterns...)
	}
	return nil
}

package party

import (
	"encoding/json"
	"github.com/gammazero/workerpool"
	"github.com/labstack/gommon/log"
	"hash/fnv"
	"sync"
	"syncstream.me/pkg/msgbroker"
)

// Listener receives events of one session. The event is shared between
// listeners and must not be modified.
type Listener func(e *Event)

// Feed fans session events out of the broker to in-process listeners. Events
// of one session are delivered in the order they were published.
type Feed struct {
	broker msgbroker.MessageBroker
	// single worker queues, a session always lands on the same one
	queues []*workerpool.WorkerPool

	sync.Mutex
	closed    bool
	nextID    uint64
	listeners map[string]map[uint64]Listener
}

func NewFeed(mb msgbroker.MessageBroker, maxWorkers int) *Feed {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	queues := make([]*workerpool.WorkerPool, maxWorkers)
	for i := range queues {
		queues[i] = workerpool.New(1)
	}
	return &Feed{
		broker:    mb,
		queues:    queues,
		listeners: make(map[string]map[uint64]Listener),
	}
}

// Start subscribes to the events of every session
func (f *Feed) Start() error {
	return f.broker.Subscribe(eventsChannel+"*", f.handleMessage)
}

// Close stops receiving events and waits for queued deliveries
func (f *Feed) Close() error {
	err := f.broker.Unsubscribe(eventsChannel + "*")
	f.Lock()
	f.closed = true
	f.Unlock()
	for _, q := range f.queues {
		q.StopWait()
	}
	return err
}

// Subscribe registers l for the events of sessionID. The returned function
// releases the subscription, calling it more than once is harmless.
func (f *Feed) Subscribe(sessionID string, l Listener) (unsubscribe func()) {
	f.Lock()
	f.nextID++
	ID := f.nextID
	if _, exists := f.listeners[sessionID]; !exists {
		f.listeners[sessionID] = make(map[uint64]Listener)
	}
	f.listeners[sessionID][ID] = l
	f.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.Lock()
			delete(f.listeners[sessionID], ID)
			if len(f.listeners[sessionID]) == 0 {
				delete(f.listeners, sessionID)
			}
			f.Unlock()
		})
	}
}

// Listeners returns the number of listeners of sessionID
func (f *Feed) Listeners(sessionID string) int {
	f.Lock()
	defer f.Unlock()
	return len(f.listeners[sessionID])
}

func (f *Feed) subscribers(sessionID string) []Listener {
	f.Lock()
	defer f.Unlock()
	result := make([]Listener, 0, len(f.listeners[sessionID]))
	for _, l := range f.listeners[sessionID] {
		result = append(result, l)
	}
	return result
}

func (f *Feed) queue(sessionID string) *workerpool.WorkerPool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return f.queues[h.Sum32()%uint32(len(f.queues))]
}

func (f *Feed) handleMessage(msg *msgbroker.Message) {
	sessionID, ok := sessionFromChannel(msg.Channel)
	if !ok {
		log.Warnf("unexpected channel %q", msg.Channel)
		return
	}

	f.Lock()
	defer f.Unlock()
	if f.closed {
		return
	}
	f.queue(sessionID).Submit(func() {
		listeners := f.subscribers(sessionID)
		if len(listeners) == 0 {
			return
		}

		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			log.Warn(err)
			return
		}
		for _, l := range listeners {
			l(&e)
		}
	})
}

package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// eventChannels holds a service's receipt and response streams and closes
// them once, after which emits are dropped.
type eventChannels struct {
	name      string
	receipts  chan models.Receipt
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

func newEventChannels(name string) *eventChannels {
	return &eventChannels{
		name:      name,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (c *eventChannels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// close marks the channels stopped and closes them. It is safe to call twice.
func (c *eventChannels) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.receipts)
	close(c.responses)
}

func (c *eventChannels) emitReceipt(r models.Receipt) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	select {
	case c.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+": receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}

func (c *eventChannels) emitResponse(r models.Response) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		slog.Warn(c.name+": dropping inbound message (service stopped)", "from", r.From)
		return
	}
	select {
	case c.responses <- r:
		slog.Debug(c.name+": inbound message forwarded", "from", r.From, "message_id", r.MessageID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+": responses channel blocked, dropping message", "from", r.From, "timeout", DefaultChannelTimeout)
	}
}

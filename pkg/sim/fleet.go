package sim

import (
	"context"
	"sync"

	"github.com/coop-transport/controller/pkg/fleet"
)

// Broadcast is an in-memory turn broadcast channel. Every announcement is
// delivered synchronously to every subscriber, the sender included.
type Broadcast struct {
	mu       sync.RWMutex
	handlers []func(fleet.TurnAnnouncement)
	sent     []fleet.TurnAnnouncement
}

// NewBroadcast creates an empty channel.
func NewBroadcast() *Broadcast {
	return &Broadcast{}
}

// Subscribe registers a receive handler, typically Coordinator.HandleAnnouncement.
func (b *Broadcast) Subscribe(handler func(fleet.TurnAnnouncement)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Announce implements fleet.Broadcaster.
func (b *Broadcast) Announce(ctx context.Context, a fleet.TurnAnnouncement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.sent = append(b.sent, a)
	handlers := append([]func(fleet.TurnAnnouncement){}, b.handlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(a)
	}
	return nil
}

// Sent returns the robot ids in announcement order.
func (b *Broadcast) Sent() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]int, len(b.sent))
	for i, a := range b.sent {
		ids[i] = a.RobotID
	}
	return ids
}

// CarryController stands in for the outer carry-phase controller. Once every
// robot of the fleet has reported attached it tells all of them the box has
// been delivered.
type CarryController struct {
	mu       sync.Mutex
	size     int
	attached map[int]bool
	results  map[int]chan fleet.CarryResult
}

// NewCarryController creates a controller for a fleet of size robots.
func NewCarryController(size int) *CarryController {
	c := &CarryController{
		size:     size,
		attached: make(map[int]bool),
		results:  make(map[int]chan fleet.CarryResult),
	}
	for i := 0; i < size; i++ {
		c.results[i] = make(chan fleet.CarryResult, 1)
	}
	return c
}

// Results returns the channel robot reads its verdict from.
func (c *CarryController) Results(robot int) <-chan fleet.CarryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[robot]
}

// NotifyAttached records the attachment of one robot.
func (c *CarryController) NotifyAttached(ctx context.Context, status fleet.AttachedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached[status.RobotID] = true
	if len(c.attached) < c.size {
		return nil
	}
	for id, ch := range c.results {
		select {
		case ch <- fleet.CarryResult{RobotID: id, OK: true}:
		default:
		}
	}
	return nil
}

// Attached returns how many robots have reported attached.
func (c *CarryController) Attached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.attached)
}

package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"laundry-reservation-backend/internal/reservation"
)

// DeviceReader is the slice of the reservation engine the hub needs. Reading
// through the engine applies the same lazy-expiry normalization the REST
// paths use, so the feeds never show a stale lease.
type DeviceReader interface {
	ReadDevice(ctx context.Context, deviceID int64) (reservation.DeviceState, error)
}

// TimeUpdate is pushed on the time feed once per tick.
type TimeUpdate struct {
	DeviceID int64  `json:"device_id"`
	TimeLeft int64  `json:"time_left"`
	Status   string `json:"status"`
	UserID   *int64 `json:"user_id"`
}

// StatusUpdate is pushed on the status feed only when the running state
// changes.
type StatusUpdate struct {
	DeviceID int64      `json:"device_id"`
	Running  bool       `json:"running"`
	EndTime  *time.Time `json:"end_time,omitempty"`
}

// Hub owns the per-device subscriber registries for the two live feeds and
// drives one tick loop per subscription. It also accepts direct pushes from
// the engine when a device goes idle.
type Hub struct {
	mu         sync.Mutex
	timeSubs   map[int64]map[*subscriber]struct{}
	statusSubs map[int64]map[*subscriber]struct{}

	reader    DeviceReader
	logger    *zap.Logger
	tick      time.Duration
	writeWait time.Duration
}

// defaultWriteWait bounds how long a single frame write may block on a
// stalled peer before the subscription is dropped.
const defaultWriteWait = 10 * time.Second

// NewHub creates the hub. One per process.
func NewHub(reader DeviceReader, logger *zap.Logger) *Hub {
	return &Hub{
		timeSubs:   make(map[int64]map[*subscriber]struct{}),
		statusSubs: make(map[int64]map[*subscriber]struct{}),
		reader:     reader,
		logger:     logger,
		tick:       time.Second,
		writeWait:  defaultWriteWait,
	}
}

// subscriber is one live connection. lastRunning carries the status feed's
// edge-trigger state; nil means nothing has been emitted yet, so the first
// observed state always goes out.
type subscriber struct {
	id          string
	conn        *websocket.Conn
	writeWait   time.Duration
	mu          sync.Mutex
	lastRunning *bool
}

// writeJSON writes one frame under a deadline, so a stalled peer cannot hold
// the subscriber mutex indefinitely.
func (s *subscriber) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// sendStatus writes the update unless the running flag matches the last one
// sent on this subscription.
func (s *subscriber) sendStatus(u StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRunning != nil && *s.lastRunning == u.Running {
		return nil
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(u); err != nil {
		return err
	}
	running := u.Running
	s.lastRunning = &running
	return nil
}

// ServeTimeFeed runs the time feed for one connection until the client
// disconnects or ctx is cancelled. It emits the device state every tick
// regardless of change.
func (h *Hub) ServeTimeFeed(ctx context.Context, conn *websocket.Conn, deviceID int64) {
	sub := &subscriber{id: uuid.NewString(), conn: conn, writeWait: h.writeWait}
	h.add(h.timeSubs, deviceID, sub)
	defer h.remove(h.timeSubs, deviceID, sub)

	h.serve(ctx, conn, sub, deviceID, func(state reservation.DeviceState) error {
		return sub.writeJSON(timeUpdateFrom(state))
	})
}

// ServeStatusFeed runs the edge-triggered status feed for one connection.
func (h *Hub) ServeStatusFeed(ctx context.Context, conn *websocket.Conn, deviceID int64) {
	sub := &subscriber{id: uuid.NewString(), conn: conn, writeWait: h.writeWait}
	h.add(h.statusSubs, deviceID, sub)
	defer h.remove(h.statusSubs, deviceID, sub)

	h.serve(ctx, conn, sub, deviceID, func(state reservation.DeviceState) error {
		return sub.sendStatus(statusUpdateFrom(state))
	})
}

// serve is the shared tick loop: read the device, emit, sleep, repeat. A
// failed read is logged and skipped; a failed write ends the subscription.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn, sub *subscriber, deviceID int64, emit func(reservation.DeviceState) error) {
	done := make(chan struct{})
	go readUntilClose(conn, done)

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		state, err := h.reader.ReadDevice(ctx, deviceID)
		if err != nil {
			h.logger.Warn("feed read failed",
				zap.Int64("device_id", deviceID),
				zap.String("subscriber", sub.id),
				zap.Error(err))
		} else if err := emit(state); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// readUntilClose drains client frames so the connection's close is noticed.
func readUntilClose(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// NotifyIdle pushes the idle state for a device on both feeds immediately,
// without waiting for the next tick. Called by the engine after a stop or a
// lazy-expiry clear commits. Dead subscribers are dropped, never escalated.
func (h *Hub) NotifyIdle(state reservation.DeviceState) {
	for _, sub := range h.snapshot(h.timeSubs, state.ID) {
		if err := sub.writeJSON(timeUpdateFrom(state)); err != nil {
			h.drop(h.timeSubs, state.ID, sub)
		}
	}
	for _, sub := range h.snapshot(h.statusSubs, state.ID) {
		if err := sub.sendStatus(statusUpdateFrom(state)); err != nil {
			h.drop(h.statusSubs, state.ID, sub)
		}
	}
}

// SubscriberCounts reports the number of live subscriptions per feed for a
// device.
func (h *Hub) SubscriberCounts(deviceID int64) (timeFeed, statusFeed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timeSubs[deviceID]), len(h.statusSubs[deviceID])
}

func (h *Hub) add(feed map[int64]map[*subscriber]struct{}, deviceID int64, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if feed[deviceID] == nil {
		feed[deviceID] = make(map[*subscriber]struct{})
	}
	feed[deviceID][sub] = struct{}{}
	h.logger.Debug("subscriber added",
		zap.Int64("device_id", deviceID),
		zap.String("subscriber", sub.id),
		zap.Int("device_subscribers", len(feed[deviceID])))
}

// remove deletes the subscriber; an emptied per-device set is dropped
// entirely so the registry does not accumulate empty entries.
func (h *Hub) remove(feed map[int64]map[*subscriber]struct{}, deviceID int64, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := feed[deviceID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(feed, deviceID)
		}
	}
}

// drop removes a dead subscriber and closes its connection so the serving
// loop's read pump terminates too.
func (h *Hub) drop(feed map[int64]map[*subscriber]struct{}, deviceID int64, sub *subscriber) {
	h.remove(feed, deviceID, sub)
	sub.conn.Close()
	h.logger.Debug("dead subscriber dropped",
		zap.Int64("device_id", deviceID),
		zap.String("subscriber", sub.id))
}

func (h *Hub) snapshot(feed map[int64]map[*subscriber]struct{}, deviceID int64) []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*subscriber, 0, len(feed[deviceID]))
	for sub := range feed[deviceID] {
		subs = append(subs, sub)
	}
	return subs
}

func timeUpdateFrom(state reservation.DeviceState) TimeUpdate {
	u := TimeUpdate{
		DeviceID: state.ID,
		TimeLeft: state.TimeLeft,
		Status:   "idle",
		UserID:   state.UserID,
	}
	if state.Running() {
		u.Status = "running"
	}
	return u
}

func statusUpdateFrom(state reservation.DeviceState) StatusUpdate {
	u := StatusUpdate{
		DeviceID: state.ID,
		Running:  state.Running(),
	}
	if state.Running() {
		u.EndTime = state.EndTime
	}
	return u
}

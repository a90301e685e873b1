// Package broker fans chat messages out to every instance through Redis
// pub/sub, one channel per room.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/chatmesh/internal/common/cnst"
	"github.com/amoylab/chatmesh/internal/common/config"
	"github.com/amoylab/chatmesh/internal/common/dto"
	"github.com/amoylab/chatmesh/internal/dedup"
	"github.com/amoylab/chatmesh/pkg/metrics"
	"github.com/amoylab/chatmesh/pkg/trace"
)

// Deliverer hands an inbound message to the connections of this instance
type Deliverer interface {
	DeliverLocal(ctx context.Context, roomID int64, msg *dto.ChatMessage)
}

// Options configures a Broker
type Options struct {
	ServerID            string
	TopicPrefix         string
	DedupHighWater      int
	DedupFloor          int
	DedupRetention      time.Duration
	CleanupInterval     time.Duration
	CleanupInitialDelay time.Duration

	// Now is the clock of the dedup cache, time.Now when nil
	Now func() time.Time
}

// OptionsFromConfig builds broker options for the instance serverID
func OptionsFromConfig(serverID string, cfg config.BrokerConfig) Options {
	return Options{
		ServerID:            serverID,
		TopicPrefix:         cfg.TopicPrefix,
		DedupHighWater:      cfg.DedupHighWater,
		DedupFloor:          cfg.DedupFloor,
		DedupRetention:      cfg.DedupRetention,
		CleanupInterval:     cfg.CleanupInterval,
		CleanupInitialDelay: cfg.CleanupInitialDelay,
	}
}

// Broker publishes envelopes to room channels and delivers the ones it
// receives to the local Deliverer, suppressing self-excluded and repeated ids.
type Broker struct {
	logger    *zap.Logger
	client    redis.UniversalClient
	pubsub    *redis.PubSub
	opts      Options
	deliverer Deliverer
	cache     *dedup.Cache
	metrics   *metrics.Metrics
	tracer    *trace.Builder

	// mu guards rooms and serializes bus subscription changes
	mu    sync.Mutex
	rooms map[int64]struct{}

	seq       atomic.Uint64
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a broker and starts its dispatch and maintenance loops. The
// deliverer is required; it is the only consumer of inbound envelopes.
func New(ctx context.Context, logger *zap.Logger, client redis.UniversalClient, opts Options, deliverer Deliverer, m *metrics.Metrics) (*Broker, error) {
	if deliverer == nil {
		return nil, cnst.ErrNilDeliverer
	}
	if opts.ServerID == "" {
		return nil, fmt.Errorf("broker requires a server id")
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = cnst.DefaultRoomTopicPrefix
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}

	var cacheOpts []dedup.Option
	if opts.Now != nil {
		cacheOpts = append(cacheOpts, dedup.WithClock(opts.Now))
	}

	bctx, cancel := context.WithCancel(ctx)
	b := &Broker{
		logger:    logger.Named("broker").With(zap.String("server_id", opts.ServerID)),
		client:    client,
		opts:      opts,
		deliverer: deliverer,
		cache:     dedup.New(opts.DedupHighWater, opts.DedupFloor, opts.DedupRetention, cacheOpts...),
		metrics:   m,
		tracer:    trace.Tracer(cnst.TraceBroker),
		rooms:     make(map[int64]struct{}),
		ctx:       bctx,
		cancel:    cancel,
	}

	// One PubSub carries every room channel; channels are added and removed
	// as rooms gain or lose local listeners.
	b.pubsub = client.Subscribe(bctx)

	b.wg.Add(2)
	go b.dispatch()
	go b.maintain()

	b.logger.Info("broker started",
		zap.String("topic_prefix", opts.TopicPrefix),
		zap.Int("dedup_high_water", opts.DedupHighWater),
		zap.Int("dedup_floor", opts.DedupFloor),
		zap.Duration("dedup_retention", opts.DedupRetention))
	return b, nil
}

// ServerID returns the identity of this instance on the bus
func (b *Broker) ServerID() string {
	return b.opts.ServerID
}

// Topic returns the channel name of a room
func (b *Broker) Topic(roomID int64) string {
	return b.opts.TopicPrefix + strconv.FormatInt(roomID, 10)
}

// Subscribe starts listening to a room's channel. Subscribing twice is a no-op.
func (b *Broker) Subscribe(ctx context.Context, roomID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rooms[roomID]; ok {
		b.logger.Debug("room already subscribed", zap.Int64("room_id", roomID))
		return nil
	}
	if err := b.pubsub.Subscribe(ctx, b.Topic(roomID)); err != nil {
		return fmt.Errorf("failed to subscribe to room %d: %w", roomID, err)
	}
	b.rooms[roomID] = struct{}{}
	b.metrics.RoomSubscriptions(len(b.rooms))

	b.logger.Info("subscribed to room", zap.Int64("room_id", roomID))
	return nil
}

// Unsubscribe stops listening to a room's channel. Unsubscribing a room that
// is not subscribed is logged as an anomaly and otherwise ignored.
func (b *Broker) Unsubscribe(ctx context.Context, roomID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribeLocked(ctx, roomID)
}

func (b *Broker) unsubscribeLocked(ctx context.Context, roomID int64) error {
	if _, ok := b.rooms[roomID]; !ok {
		b.logger.Warn("unsubscribe requested for a room that is not subscribed",
			zap.Int64("room_id", roomID))
		return nil
	}
	if err := b.pubsub.Unsubscribe(ctx, b.Topic(roomID)); err != nil {
		return fmt.Errorf("failed to unsubscribe from room %d: %w", roomID, err)
	}
	delete(b.rooms, roomID)
	b.metrics.RoomSubscriptions(len(b.rooms))

	b.logger.Info("unsubscribed from room", zap.Int64("room_id", roomID))
	return nil
}

// Subscribed reports whether this instance listens to a room's channel
func (b *Broker) Subscribed(roomID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rooms[roomID]
	return ok
}

// SubscribedRooms returns the rooms this instance listens to, sorted
func (b *Broker) SubscribedRooms() []int64 {
	b.mu.Lock()
	rooms := make([]int64, 0, len(b.rooms))
	for id := range b.rooms {
		rooms = append(rooms, id)
	}
	b.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

// Broadcast publishes msg to every instance subscribed to the room. It is
// fire-and-forget: failures are logged and never returned or retried. A
// non-empty excludeServerID suppresses delivery on that instance.
func (b *Broker) Broadcast(ctx context.Context, roomID int64, msg *dto.ChatMessage, excludeServerID string) {
	if msg == nil {
		b.metrics.EnvelopePublished(false)
		b.logger.Error("refusing to broadcast a nil message", zap.Int64("room_id", roomID))
		return
	}

	env := b.newEnvelope(roomID, msg, excludeServerID)

	scope := b.tracer.Start(ctx, cnst.SpanBrokerBroadcast).WithAttrs(
		attribute.Int64(cnst.AttrRoomID, roomID),
		attribute.String(cnst.AttrEnvelopeID, env.ID),
	)
	defer scope.End()

	data, err := json.Marshal(env)
	if err != nil {
		scope.Fail(err)
		b.metrics.EnvelopePublished(false)
		b.logger.Error("failed to encode envelope",
			zap.Int64("room_id", roomID),
			zap.Error(err))
		return
	}

	if err := b.client.Publish(scope.Ctx, b.Topic(roomID), data).Err(); err != nil {
		scope.Fail(err)
		b.metrics.EnvelopePublished(false)
		b.logger.Error("failed to publish envelope",
			zap.Int64("room_id", roomID),
			zap.String("envelope_id", env.ID),
			zap.Error(err))
		return
	}

	b.metrics.EnvelopePublished(true)
	b.logger.Debug("broadcasted envelope",
		zap.Int64("room_id", roomID),
		zap.String("envelope_id", env.ID))
}

func (b *Broker) newEnvelope(roomID int64, msg *dto.ChatMessage, excludeServerID string) *Envelope {
	now := time.Now()
	env := &Envelope{
		ID:        fmt.Sprintf("%s-%d-%d", b.opts.ServerID, now.UnixMilli(), b.seq.Add(1)),
		ServerID:  b.opts.ServerID,
		RoomID:    roomID,
		Timestamp: now,
		Payload:   *msg,
	}
	if excludeServerID != "" {
		env.ExcludeServerID = &excludeServerID
	}
	return env
}

// HandleEnvelope processes one raw envelope received from the bus
func (b *Broker) HandleEnvelope(ctx context.Context, raw []byte) {
	b.metrics.EnvelopeReceived()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.metrics.EnvelopeDropped(metrics.DropUndecodable)
		b.logger.Error("failed to decode envelope", zap.Error(err), zap.ByteString("raw", raw))
		return
	}

	if env.Excludes(b.opts.ServerID) {
		b.metrics.EnvelopeDropped(metrics.DropSelfExcluded)
		b.logger.Debug("dropping envelope excluded for this instance",
			zap.String("envelope_id", env.ID))
		return
	}

	if b.cache.Contains(env.ID) {
		b.metrics.EnvelopeDropped(metrics.DropDuplicate)
		b.logger.Debug("dropping duplicate envelope", zap.String("envelope_id", env.ID))
		return
	}

	scope := b.tracer.Start(ctx, cnst.SpanBrokerReceive).WithAttrs(
		attribute.Int64(cnst.AttrRoomID, env.RoomID),
		attribute.String(cnst.AttrEnvelopeID, env.ID),
		attribute.String(cnst.AttrServerID, env.ServerID),
	)
	b.deliverer.DeliverLocal(scope.Ctx, env.RoomID, &env.Payload)
	scope.End()

	if trimmed := b.cache.Add(env.ID); trimmed > 0 {
		b.logger.Info("trimmed dedup cache", zap.Int("evicted", trimmed))
	}
	b.metrics.DedupSize(b.cache.Len())
}

// dispatch is the single receive loop shared by every subscribed channel
func (b *Broker) dispatch() {
	defer b.wg.Done()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.HandleEnvelope(b.ctx, []byte(msg.Payload))
		}
	}
}

// maintain evicts expired dedup entries on a fixed interval
func (b *Broker) maintain() {
	defer b.wg.Done()

	timer := time.NewTimer(b.opts.CleanupInitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-timer.C:
			if removed := b.cache.EvictExpired(); removed > 0 {
				b.logger.Info("evicted expired envelope ids",
					zap.Int("evicted", removed),
					zap.Int("remaining", b.cache.Len()))
			}
			b.metrics.DedupSize(b.cache.Len())
			timer.Reset(b.opts.CleanupInterval)
		}
	}
}

// Close unsubscribes every room and stops the broker. The Redis client is
// owned by the caller and stays open.
func (b *Broker) Close(ctx context.Context) error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		for roomID := range b.rooms {
			if err := b.unsubscribeLocked(ctx, roomID); err != nil {
				b.logger.Warn("failed to unsubscribe during close",
					zap.Int64("room_id", roomID),
					zap.Error(err))
			}
		}
		b.mu.Unlock()

		b.cancel()
		if err := b.pubsub.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close pubsub: %w", err)
		}
		b.wg.Wait()
		b.logger.Info("broker stopped")
	})
	return closeErr
}

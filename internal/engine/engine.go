package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/metrics"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/transport"
)

const (
	commandChannelSize = 256
	defaultCmdTimeout  = 5 * time.Second
	defaultStopTimeout = 10 * time.Second
)

// Config tunes the engine. Zero values fall back to the documented defaults.
type Config struct {
	// ThrottleInterval is the delay between the first throttled enqueue
	// for a topic and the release of its batch.
	ThrottleInterval time.Duration
	// BatchSize bounds how many raw events one release cycle drains.
	BatchSize int
	// QueueCapacity bounds the per-topic pending queue; the oldest entry
	// is evicted when a new event arrives at capacity.
	QueueCapacity int
	// HeartbeatInterval is the default monitor interval for subscriptions
	// that do not set their own.
	HeartbeatInterval time.Duration
	// MaxReconnectAttempts is the default retry budget per connection.
	MaxReconnectAttempts int
	// ReconnectBaseDelay is the default backoff base per connection.
	ReconnectBaseDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// CommandTimeout bounds how long public calls wait for the actor.
	CommandTimeout time.Duration
	// StopTimeout bounds how long Stop waits for the actor to exit.
	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 50
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCmdTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	return c
}

// topicQueue pairs a topic's pending queue with its release timer state.
// gen values are issued by the engine-wide sequence; a release callback
// whose generation no longer matches the entry's is stale and dropped.
type topicQueue struct {
	queue        *pendingQueue
	timerPending bool
	gen          uint64
}

// --- Commands ---

// engineCmd is the command interface for the Engine actor.
type engineCmd interface{ isEngineCmd() }

type baseEngineCmd struct{}

func (baseEngineCmd) isEngineCmd() {}

type subscribeCmd struct {
	baseEngineCmd
	topicID      string
	subscriberID string
	config       SubscribeConfig
	replyChannel chan subscribeReply
}

type subscribeReply struct {
	status ConnectionStatus
	err    error
}

type unsubscribeCmd struct {
	baseEngineCmd
	topicID      string
	subscriberID string
}

type broadcastCmd struct {
	baseEngineCmd
	event Event
}

type broadcastThrottledCmd struct {
	baseEngineCmd
	event Event
}

type releaseCmd struct {
	baseEngineCmd
	topicID string
	gen     uint64
}

type heartbeatTickCmd struct {
	baseEngineCmd
	connectionID string
	gen          uint64
}

type recordHeartbeatCmd struct {
	baseEngineCmd
	connectionID string
}

type markConnectedCmd struct {
	baseEngineCmd
	connectionID string
}

type transportErrorCmd struct {
	baseEngineCmd
	connectionID string
	err          error
}

type retryCmd struct {
	baseEngineCmd
	connectionID string
	gen          uint64
}

type getSnapshotCmd struct {
	baseEngineCmd
	topicID      string
	replyChannel chan snapshotReply
}

type snapshotReply struct {
	snapshot Snapshot
	ok       bool
}

type getStatusesCmd struct {
	baseEngineCmd
	replyChannel chan map[string]ConnectionStatus
}

type hasSubscribersCmd struct {
	baseEngineCmd
	topicID      string
	replyChannel chan bool
}

type subscriberCountCmd struct {
	baseEngineCmd
	topicID      string
	replyChannel chan int
}

type optimizeCmd struct {
	baseEngineCmd
	maxIdle      time.Duration
	replyChannel chan int
}

type flushAllCmd struct {
	baseEngineCmd
	replyChannel chan struct{}
}

type clearPendingCmd struct {
	baseEngineCmd
	topicID string
}

type cleanupCmd struct {
	baseEngineCmd
	replyChannel chan struct{}
}

type stopCmd struct {
	baseEngineCmd
}

// --- Engine ---

// Engine is the distribution facade. A single actor goroutine owns the
// topic snapshots, pending queues and connection registry; public methods
// post typed commands onto its channel, so no caller ever touches shared
// state directly and per-topic processing is strictly sequential.
type Engine struct {
	cmdCh      chan engineCmd
	clock      clockwork.Clock
	cfg        Config
	channels   transport.Factory
	aggregator *Aggregator
	registry   *registry
	notifier   *Notifier
	topics     map[string]*topicQueue
	genSeq     uint64
	done       chan struct{}
	stopped    chan struct{}
}

// New creates and starts an engine. channels may be nil, in which case
// subscriptions are registered without a push channel (notifications still
// reach in-process listeners).
func New(cfg Config, channels transport.Factory, clock clockwork.Clock) *Engine {
	e := &Engine{
		cmdCh:      make(chan engineCmd, commandChannelSize),
		clock:      clock,
		cfg:        cfg.withDefaults(),
		channels:   channels,
		aggregator: NewAggregator(clock),
		registry:   newRegistry(),
		notifier:   NewNotifier(),
		topics:     make(map[string]*topicQueue),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go e.run()
	return e
}

// SubscribeUpdates registers an in-process listener for topic updates.
func (e *Engine) SubscribeUpdates() (<-chan TopicUpdate, func()) {
	return e.notifier.SubscribeUpdates()
}

// SubscribeStatuses registers an in-process listener for connection status changes.
func (e *Engine) SubscribeStatuses() (<-chan StatusUpdate, func()) {
	return e.notifier.SubscribeStatuses()
}

// Subscribe registers a subscriber for a topic. An existing connection for
// the same (topic, subscriber) pair is torn down first, so subscribing is
// idempotent. The returned status starts disconnected; the transport layer
// flips it once the channel reports open.
func (e *Engine) Subscribe(topicID, subscriberID string, config SubscribeConfig) (ConnectionStatus, error) {
	replyCh := make(chan subscribeReply, 1)
	if err := e.post(subscribeCmd{topicID: topicID, subscriberID: subscriberID, config: config, replyChannel: replyCh}); err != nil {
		return ConnectionStatus{}, err
	}

	timer := e.clock.NewTimer(e.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.status, reply.err
	case <-timer.Chan():
		return ConnectionStatus{}, fmt.Errorf("subscribe: %w", ErrCommandTimeout)
	case <-e.done:
		return ConnectionStatus{}, ErrEngineStopped
	}
}

// Unsubscribe removes a subscriber's connection. An empty subscriberID
// removes every connection for the topic. The topic's snapshot is left
// untouched either way.
func (e *Engine) Unsubscribe(topicID, subscriberID string) {
	_ = e.post(unsubscribeCmd{topicID: topicID, subscriberID: subscriberID})
}

// Broadcast applies an event immediately and emits the resulting update
// without throttling. It never fails; malformed events are applied
// permissively so one bad producer cannot stall the pipeline.
func (e *Engine) Broadcast(event Event) {
	_ = e.post(broadcastCmd{event: event})
}

// BroadcastThrottled enqueues an event for batched, rate-limited release.
// The first enqueue for a topic arms its release timer; later enqueues in
// the same window coalesce onto it, so worst-case latency stays bounded by
// the throttle interval.
func (e *Engine) BroadcastThrottled(event Event) {
	_ = e.post(broadcastThrottledCmd{event: event})
}

// RecordHeartbeat refreshes a connection's liveness timestamp.
func (e *Engine) RecordHeartbeat(connectionID string) {
	_ = e.post(recordHeartbeatCmd{connectionID: connectionID})
}

// MarkConnected flips a connection to connected and starts its heartbeat
// monitor. Called by the transport layer once the channel is open.
func (e *Engine) MarkConnected(connectionID string) {
	_ = e.post(markConnectedCmd{connectionID: connectionID})
}

// ReportError routes a transport failure into the reconnection controller.
func (e *Engine) ReportError(connectionID string, err error) {
	_ = e.post(transportErrorCmd{connectionID: connectionID, err: err})
}

// GetSnapshot returns a copy of the topic's snapshot, if one exists.
func (e *Engine) GetSnapshot(topicID string) (Snapshot, bool) {
	replyCh := make(chan snapshotReply, 1)
	if err := e.post(getSnapshotCmd{topicID: topicID, replyChannel: replyCh}); err != nil {
		return Snapshot{}, false
	}
	select {
	case reply := <-replyCh:
		return reply.snapshot, reply.ok
	case <-e.done:
		return Snapshot{}, false
	}
}

// GetConnectionStatuses returns the status of every registered connection.
func (e *Engine) GetConnectionStatuses() map[string]ConnectionStatus {
	replyCh := make(chan map[string]ConnectionStatus, 1)
	if err := e.post(getStatusesCmd{replyChannel: replyCh}); err != nil {
		return map[string]ConnectionStatus{}
	}
	select {
	case statuses := <-replyCh:
		return statuses
	case <-e.done:
		return map[string]ConnectionStatus{}
	}
}

// HasActiveSubscribers reports whether any connection is registered for the topic.
func (e *Engine) HasActiveSubscribers(topicID string) bool {
	replyCh := make(chan bool, 1)
	if err := e.post(hasSubscribersCmd{topicID: topicID, replyChannel: replyCh}); err != nil {
		return false
	}
	select {
	case has := <-replyCh:
		return has
	case <-e.done:
		return false
	}
}

// SubscriberCount returns the number of connections registered for the topic.
func (e *Engine) SubscriberCount(topicID string) int {
	replyCh := make(chan int, 1)
	if err := e.post(subscriberCountCmd{topicID: topicID, replyChannel: replyCh}); err != nil {
		return 0
	}
	select {
	case count := <-replyCh:
		return count
	case <-e.done:
		return 0
	}
}

// OptimizeConnections tears down connections whose heartbeat is older than
// maxIdle and returns how many were removed. Intended to run on a periodic
// trigger as a sweep for leaked or abandoned connections.
func (e *Engine) OptimizeConnections(maxIdle time.Duration) int {
	replyCh := make(chan int, 1)
	if err := e.post(optimizeCmd{maxIdle: maxIdle, replyChannel: replyCh}); err != nil {
		return 0
	}
	select {
	case swept := <-replyCh:
		return swept
	case <-e.done:
		return 0
	}
}

// FlushAllPendingUpdates cancels every pending release timer and drains
// every topic's queue to completion. Shutdown primitive.
func (e *Engine) FlushAllPendingUpdates() {
	replyCh := make(chan struct{}, 1)
	if err := e.post(flushAllCmd{replyChannel: replyCh}); err != nil {
		return
	}
	select {
	case <-replyCh:
	case <-e.done:
	}
}

// ClearPendingUpdates discards a topic's queue and cancels its release
// timer without processing anything. Abnormal teardown primitive.
func (e *Engine) ClearPendingUpdates(topicID string) {
	_ = e.post(clearPendingCmd{topicID: topicID})
}

// Cleanup fully resets the engine: every channel closed, every timer
// cancelled, every snapshot and connection dropped.
func (e *Engine) Cleanup() {
	replyCh := make(chan struct{}, 1)
	if err := e.post(cleanupCmd{replyChannel: replyCh}); err != nil {
		return
	}
	select {
	case <-replyCh:
	case <-e.done:
	}
}

// Stop shuts the engine down, closing all channels and listener streams.
// Blocks until the actor goroutine has exited or the stop timeout elapses.
func (e *Engine) Stop() {
	if err := e.post(stopCmd{}); err != nil {
		return
	}

	timeout := e.clock.NewTimer(e.cfg.StopTimeout)
	defer timeout.Stop()

	select {
	case <-e.done:
		slog.Info("Engine stopped gracefully")
	case <-timeout.Chan():
		slog.Error("Engine stop timeout exceeded, actor goroutine may have leaked",
			"timeout", e.cfg.StopTimeout,
		)
		metrics.EngineStopTimeoutsTotal.Inc()
		close(e.stopped)
	}
}

// post hands a command to the actor, failing fast once the engine is stopped.
func (e *Engine) post(cmd engineCmd) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.cmdCh <- cmd:
		return nil
	case <-e.done:
		return ErrEngineStopped
	}
}

// --- Actor loop ---

func (e *Engine) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine panic recovered", "panic", r)
			metrics.EnginePanicsTotal.Inc()
			e.shutdown()
		}
	}()
	defer close(e.done)

	depthTicker := e.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(e.cmdCh)
			metrics.CommandChannelDepth.Set(float64(depth))
			if depth > commandChannelSize*4/5 {
				slog.Warn("Engine command channel near capacity", "depth", depth, "capacity", commandChannelSize)
			}
		case <-e.stopped:
			return
		case cmd := <-e.cmdCh:
			switch c := cmd.(type) {
			case subscribeCmd:
				status, err := e.handleSubscribe(c.topicID, c.subscriberID, c.config, 0)
				c.replyChannel <- subscribeReply{status: status, err: err}
			case unsubscribeCmd:
				e.handleUnsubscribe(c)
			case broadcastCmd:
				e.applyAndEmit(c.event)
			case broadcastThrottledCmd:
				e.handleThrottled(c.event)
			case releaseCmd:
				e.handleRelease(c)
			case heartbeatTickCmd:
				e.handleHeartbeatTick(c)
			case recordHeartbeatCmd:
				if conn := e.registry.get(c.connectionID); conn != nil {
					conn.status.LastHeartbeatAt = e.clock.Now()
				}
			case markConnectedCmd:
				e.handleMarkConnected(c)
			case transportErrorCmd:
				e.handleTransportError(c)
			case retryCmd:
				e.handleRetry(c)
			case getSnapshotCmd:
				snap, ok := e.aggregator.Snapshot(c.topicID)
				c.replyChannel <- snapshotReply{snapshot: snap, ok: ok}
			case getStatusesCmd:
				c.replyChannel <- e.registry.statuses()
			case hasSubscribersCmd:
				c.replyChannel <- e.registry.hasSubscribers(c.topicID)
			case subscriberCountCmd:
				c.replyChannel <- e.registry.subscriberCount(c.topicID)
			case optimizeCmd:
				c.replyChannel <- e.handleOptimize(c.maxIdle)
			case flushAllCmd:
				e.handleFlushAll()
				c.replyChannel <- struct{}{}
			case clearPendingCmd:
				e.handleClearPending(c.topicID)
			case cleanupCmd:
				e.handleCleanup()
				c.replyChannel <- struct{}{}
			case stopCmd:
				e.shutdown()
				return
			default:
				slog.Warn("Engine received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

// --- Subscription handling ---

func (e *Engine) handleSubscribe(topicID, subscriberID string, config SubscribeConfig, attempts int) (ConnectionStatus, error) {
	if strings.TrimSpace(topicID) == "" {
		return ConnectionStatus{}, ErrEmptyTopicID
	}

	if existing := e.registry.find(topicID, subscriberID); existing != nil {
		e.teardown(existing)
	}

	now := e.clock.Now()
	conn := &connection{
		id:           newConnectionID(topicID, subscriberID, now),
		topicID:      topicID,
		subscriberID: subscriberID,
		config:       e.subscribeDefaults(config),
		status: ConnectionStatus{
			Connected:         false,
			LastHeartbeatAt:   now,
			ReconnectAttempts: attempts,
		},
	}
	e.registry.add(conn)
	slog.Debug("Subscriber registered",
		"topic_id", topicID,
		"subscriber_id", subscriberID,
		"connection_id", conn.id,
	)

	if e.channels != nil {
		e.openChannel(conn)
	}

	return conn.status, nil
}

func (e *Engine) subscribeDefaults(config SubscribeConfig) SubscribeConfig {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = e.cfg.HeartbeatInterval
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = e.cfg.MaxReconnectAttempts
	}
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = e.cfg.ReconnectBaseDelay
	}
	return config
}

func (e *Engine) openChannel(conn *connection) {
	connectionID := conn.id
	callbacks := transport.Callbacks{
		OnOpen:      func() { e.MarkConnected(connectionID) },
		OnHeartbeat: func() { e.RecordHeartbeat(connectionID) },
		OnError:     func(err error) { e.ReportError(connectionID, err) },
		OnClose:     func() { e.ReportError(connectionID, ErrChannelClosed) },
	}
	request := transport.OpenRequest{
		ConnectionID:      conn.id,
		TopicID:           conn.topicID,
		SubscriberID:      conn.subscriberID,
		HeartbeatInterval: conn.config.HeartbeatInterval,
	}

	channel, err := e.channels.Open(request, callbacks)
	if err != nil {
		slog.Warn("Failed to open push channel",
			"connection_id", conn.id,
			"error", err,
		)
		e.scheduleReconnect(conn, err)
		return
	}
	conn.channel = channel
}

func (e *Engine) handleUnsubscribe(c unsubscribeCmd) {
	if c.subscriberID != "" {
		if conn := e.registry.find(c.topicID, c.subscriberID); conn != nil {
			e.teardown(conn)
		}
		return
	}
	for _, conn := range e.registry.topicConnections(c.topicID) {
		e.teardown(conn)
	}
}

// teardown stops a connection's timers, closes its channel and removes it
// from the registry. The topic snapshot is untouched.
func (e *Engine) teardown(conn *connection) {
	conn.heartbeatGen++
	conn.retryGen++
	conn.retryPending = false
	if conn.channel != nil {
		if err := conn.channel.Close(); err != nil {
			slog.Debug("Error closing push channel", "connection_id", conn.id, "error", err)
		}
		conn.channel = nil
	}
	e.registry.remove(conn)
	slog.Debug("Connection torn down", "connection_id", conn.id)
}

// --- Heartbeat monitor ---

func (e *Engine) handleMarkConnected(c markConnectedCmd) {
	conn := e.registry.get(c.connectionID)
	if conn == nil {
		return
	}
	conn.status.Connected = true
	conn.status.LastHeartbeatAt = e.clock.Now()
	conn.status.ReconnectAttempts = 0
	conn.status.LastError = ""
	conn.retryPending = false
	conn.retryGen++
	e.startHeartbeat(conn)
	e.notifier.publishStatus(conn.statusUpdate(ReasonConnected))
	slog.Info("Connection established", "connection_id", conn.id, "topic_id", conn.topicID)
}

func (e *Engine) startHeartbeat(conn *connection) {
	conn.heartbeatGen++
	e.scheduleHeartbeatTick(conn)
}

func (e *Engine) scheduleHeartbeatTick(conn *connection) {
	connectionID := conn.id
	gen := conn.heartbeatGen
	e.clock.AfterFunc(conn.config.HeartbeatInterval, func() {
		_ = e.post(heartbeatTickCmd{connectionID: connectionID, gen: gen})
	})
}

func (e *Engine) handleHeartbeatTick(c heartbeatTickCmd) {
	conn := e.registry.get(c.connectionID)
	if conn == nil || conn.heartbeatGen != c.gen || !conn.status.Connected {
		return
	}

	elapsed := e.clock.Now().Sub(conn.status.LastHeartbeatAt)
	if elapsed <= 2*conn.config.HeartbeatInterval {
		e.scheduleHeartbeatTick(conn)
		return
	}

	// Stale: flag it once and stop the monitor. The reconnection
	// controller takes over from here; the timeout stays recorded as the
	// connection's error through the reconnect attempts.
	conn.heartbeatGen++
	conn.status.Connected = false
	conn.status.LastError = ErrHeartbeatTimeout.Error()
	metrics.HeartbeatTimeoutsTotal.Inc()
	e.notifier.publishStatus(conn.statusUpdate(ReasonHeartbeatTimeout))
	slog.Warn("Heartbeat timeout",
		"connection_id", conn.id,
		"topic_id", conn.topicID,
		"elapsed", elapsed,
	)
	e.scheduleReconnect(conn, ErrHeartbeatTimeout)
}

// --- Reconnection controller ---

func (e *Engine) handleTransportError(c transportErrorCmd) {
	conn := e.registry.get(c.connectionID)
	if conn == nil || conn.retryPending {
		return
	}
	conn.heartbeatGen++
	conn.status.Connected = false
	slog.Warn("Transport error reported",
		"connection_id", conn.id,
		"topic_id", conn.topicID,
		"error", c.err,
	)
	e.scheduleReconnect(conn, c.err)
}

func (e *Engine) scheduleReconnect(conn *connection, cause error) {
	conn.status.Connected = false
	if cause != nil {
		conn.status.LastError = cause.Error()
	}
	conn.status.ReconnectAttempts++
	metrics.ReconnectAttemptsTotal.Inc()

	if conn.status.ReconnectAttempts > conn.config.MaxReconnectAttempts {
		conn.retryPending = false
		metrics.ReconnectFailuresTotal.Inc()
		e.notifier.publishStatus(conn.statusUpdate(ReasonFailed))
		slog.Error("Reconnection attempts exhausted",
			"connection_id", conn.id,
			"topic_id", conn.topicID,
			"attempts", conn.status.ReconnectAttempts-1,
		)
		return
	}

	delay := backoffDelay(conn.config.ReconnectBaseDelay, conn.status.ReconnectAttempts, e.cfg.MaxReconnectDelay)
	conn.retryPending = true
	conn.retryGen++
	connectionID := conn.id
	gen := conn.retryGen

	e.notifier.publishStatus(conn.statusUpdate(ReasonReconnecting))
	slog.Info("Scheduling reconnect",
		"connection_id", conn.id,
		"attempt", conn.status.ReconnectAttempts,
		"delay", delay,
	)
	e.clock.AfterFunc(delay, func() {
		_ = e.post(retryCmd{connectionID: connectionID, gen: gen})
	})
}

func (e *Engine) handleRetry(c retryCmd) {
	conn := e.registry.get(c.connectionID)
	if conn == nil || conn.retryGen != c.gen {
		return
	}
	conn.retryPending = false
	// Re-subscribe with the original config, carrying the attempt count
	// forward so the budget is enforced across retries.
	_, _ = e.handleSubscribe(conn.topicID, conn.subscriberID, conn.config, conn.status.ReconnectAttempts)
}

// backoffDelay doubles per attempt starting at twice the base, capped.
func backoffDelay(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	delay := base
	for range attempt {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

// --- Broadcast path ---

// applyAndEmit folds one event into the aggregate and pushes the update
// out. Failures are logged and swallowed so a bad event cannot stall the
// rest of a batch or the pipeline.
func (e *Engine) applyAndEmit(event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcast failure swallowed", "topic_id", event.TopicID, "panic", r)
			metrics.BroadcastFailuresTotal.Inc()
		}
	}()

	snapshot := e.aggregator.Apply(event)
	update := TopicUpdate{Event: event, Snapshot: snapshot}
	e.notifier.publishUpdate(update)
	metrics.UpdatesEmittedTotal.Inc()

	payload, err := json.Marshal(update)
	if err != nil {
		slog.Error("Failed to marshal topic update", "topic_id", event.TopicID, "error", err)
		return
	}
	for _, conn := range e.registry.topicConnections(event.TopicID) {
		if conn.channel == nil || !conn.status.Connected {
			continue
		}
		if err := conn.channel.Send(payload); err != nil {
			metrics.DeliveryDropsTotal.Inc()
			slog.Warn("Dropped update for slow subscriber",
				"connection_id", conn.id,
				"error", err,
			)
		}
	}
}

// nextGen issues a fresh queue generation. Generations are never reused,
// so a release timer armed against an earlier incarnation of a topic entry
// can never match one created after a clear or cleanup.
func (e *Engine) nextGen() uint64 {
	e.genSeq++
	return e.genSeq
}

func (e *Engine) handleThrottled(event Event) {
	tq, ok := e.topics[event.TopicID]
	if !ok {
		tq = &topicQueue{queue: newPendingQueue(e.cfg.QueueCapacity), gen: e.nextGen()}
		e.topics[event.TopicID] = tq
	}

	if tq.queue.push(event) {
		metrics.EventsDroppedTotal.Inc()
		slog.Warn("Pending queue full, evicted oldest event", "topic_id", event.TopicID)
	}
	metrics.ThrottledEnqueuedTotal.Inc()

	// Debounce on first enqueue only: an armed timer is never reset, so
	// the worst-case latency for this window stays one throttle interval.
	if tq.timerPending {
		return
	}
	tq.timerPending = true
	topicID := event.TopicID
	gen := tq.gen
	e.clock.AfterFunc(e.cfg.ThrottleInterval, func() {
		_ = e.post(releaseCmd{topicID: topicID, gen: gen})
	})
}

func (e *Engine) handleRelease(c releaseCmd) {
	tq, ok := e.topics[c.topicID]
	if !ok || tq.gen != c.gen || !tq.timerPending {
		return
	}
	tq.timerPending = false
	e.drainTopic(tq)
}

// drainTopic releases the backlog in consolidated batches, back to back,
// until the queue is empty.
func (e *Engine) drainTopic(tq *topicQueue) {
	for tq.queue.len() > 0 {
		batch := tq.queue.drain(e.cfg.BatchSize)
		drained := len(batch)
		batch = consolidate(batch)
		metrics.BatchesReleasedTotal.Inc()
		metrics.EventsConsolidatedTotal.Add(float64(drained - len(batch)))
		for _, event := range batch {
			e.applyAndEmit(event)
		}
	}
}

func (e *Engine) handleFlushAll() {
	for _, tq := range e.topics {
		tq.gen = e.nextGen()
		tq.timerPending = false
		e.drainTopic(tq)
	}
}

func (e *Engine) handleClearPending(topicID string) {
	// Dropping the entry is enough: a fresh entry gets a generation the
	// armed timer has never seen, so the timer cannot release it.
	delete(e.topics, topicID)
}

// --- Administrative ---

func (e *Engine) handleOptimize(maxIdle time.Duration) int {
	stale := e.registry.stale(e.clock.Now(), maxIdle)
	for _, conn := range stale {
		conn.status.Connected = false
		conn.status.LastError = "idle connection swept"
		e.notifier.publishStatus(conn.statusUpdate(ReasonSwept))
		e.teardown(conn)
	}
	if len(stale) > 0 {
		slog.Info("Swept idle connections", "count", len(stale))
	}
	return len(stale)
}

func (e *Engine) handleCleanup() {
	e.topics = make(map[string]*topicQueue)
	e.disconnectAll()
	e.aggregator.Reset()
	slog.Info("Engine state cleaned up")
}

// disconnectAll invalidates every connection's timers, closes its channel
// and empties the registry in one sweep.
func (e *Engine) disconnectAll() {
	for _, conn := range e.registry.all() {
		conn.heartbeatGen++
		conn.retryGen++
		conn.retryPending = false
		if conn.channel != nil {
			_ = conn.channel.Close()
			conn.channel = nil
		}
	}
	e.registry.reset()
}

func (e *Engine) shutdown() {
	total := len(e.registry.byID)
	e.topics = make(map[string]*topicQueue)
	e.disconnectAll()
	e.aggregator.Reset()
	e.notifier.close()
	slog.Info("Engine shutdown complete", "disconnected_connections", total)
}

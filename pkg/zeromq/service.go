package zeromq

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/coop-transport/controller/pkg/config"
	customlog "github.com/coop-transport/controller/pkg/log"
)

// Common errors
var (
	ErrServiceClosed  = errors.New("zeromq service is closed")
	ErrInvalidMessage = errors.New("invalid message format")
	ErrUnknownTopic   = errors.New("unknown topic")
)

// MessageHandler processes the payload of one topic frame.
type MessageHandler interface {
	HandleMessage(topic string, payload []byte) error
}

// HandlerFunc is a function type that implements MessageHandler
type HandlerFunc func(topic string, payload []byte) error

// HandleMessage calls the function
func (f HandlerFunc) HandleMessage(topic string, payload []byte) error {
	return f(topic, payload)
}

// Publisher sends topic-framed messages on the bus.
type Publisher interface {
	PublishMessage(topic string, message []byte) error
	PublishJSON(topic string, messageType string, data interface{}) error
}

// MessageReceiver reads [topic, payload] frames from a SUB socket connected
// to every fleet member and the pose feed.
type MessageReceiver struct {
	socket     *zmq4.Socket
	dispatcher *MessageDispatcher
	poller     *zmq4.Poller
	timeout    time.Duration
	logger     customlog.Logger
	started    bool
	running    atomic.Bool
	wg         *sync.WaitGroup
}

func newMessageReceiver(ctx *zmq4.Context, cfg config.ZeroMQBootstrap, dispatcher *MessageDispatcher, logger customlog.Logger, wg *sync.WaitGroup) (*MessageReceiver, error) {
	socket, err := ctx.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	endpoints := append([]string(nil), cfg.PeerAddresses...)
	if cfg.PoseFeedAddress != "" {
		endpoints = append(endpoints, cfg.PoseFeedAddress)
	}
	for _, endpoint := range endpoints {
		if err := socket.Connect(endpoint); err != nil {
			socket.Close()
			return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
		}
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	timeout := time.Duration(cfg.ReceiveTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	logger.Infof("MessageReceiver connected to %s", strings.Join(endpoints, ", "))

	return &MessageReceiver{
		socket:     socket,
		dispatcher: dispatcher,
		poller:     poller,
		timeout:    timeout,
		logger:     logger,
		wg:         wg,
	}, nil
}

// Start subscribes to every registered topic and begins the receive loop.
// The socket is owned by the loop goroutine from here on and is closed when
// the loop exits.
func (r *MessageReceiver) Start() error {
	if r.started {
		return nil
	}
	for _, topic := range r.dispatcher.Topics() {
		if err := r.socket.SetSubscribe(topic); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	r.started = true
	r.running.Store(true)
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.socket.Close()
		r.logger.Infof("MessageReceiver started")

		for r.running.Load() {
			sockets, err := r.poller.Poll(r.timeout)
			if err != nil {
				if r.running.Load() {
					r.logger.Warnf("Error polling socket: %v", err)
				}
				continue
			}
			if len(sockets) == 0 {
				continue
			}

			frames, err := r.socket.RecvMessageBytes(0)
			if err != nil {
				if r.running.Load() {
					r.logger.Warnf("Error receiving message: %v", err)
				}
				continue
			}
			if len(frames) != 2 {
				r.logger.Warnf("%v: expected 2 frames, got %d", ErrInvalidMessage, len(frames))
				continue
			}

			topic := string(frames[0])
			if err := r.dispatcher.Dispatch(topic, frames[1]); err != nil {
				r.logger.Warnf("Error dispatching %s message: %v", topic, err)
			}
		}
		r.logger.Infof("MessageReceiver stopped")
	}()
	return nil
}

// Stop asks the receive loop to exit at its next poll timeout. A receiver
// that never started closes its socket directly.
func (r *MessageReceiver) Stop() {
	if !r.started {
		r.socket.Close()
		r.started = true
		return
	}
	r.running.Store(false)
}

// MessageSender handles sending messages on the PUB socket
type MessageSender struct {
	socket  *zmq4.Socket
	logger  customlog.Logger
	running bool
	mu      sync.Mutex
}

func newMessageSender(ctx *zmq4.Context, cfg config.ZeroMQBootstrap, logger customlog.Logger) (*MessageSender, error) {
	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.Bind(cfg.PublishBindAddress); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", cfg.PublishBindAddress, err)
	}

	logger.Infof("MessageSender bound to %s", cfg.PublishBindAddress)

	return &MessageSender{
		socket:  socket,
		logger:  logger,
		running: true,
	}, nil
}

// PublishMessage sends a message with the given topic
func (s *MessageSender) PublishMessage(topic string, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServiceClosed
	}

	if _, err := s.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := s.socket.SendBytes(message, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close cleans up resources
func (s *MessageSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.socket != nil {
		s.socket.Close()
		s.socket = nil
	}
}

// MessageDispatcher routes messages to handlers by topic. A handler
// registered for "pose." receives every topic with that prefix; an exact
// registration wins over a prefix one.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	logger   customlog.Logger
	mu       sync.RWMutex
}

// NewMessageDispatcher creates a new message dispatcher
func NewMessageDispatcher(logger customlog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   logger,
	}
}

// RegisterHandler adds a handler for a topic or topic prefix
func (d *MessageDispatcher) RegisterHandler(topic string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[topic] = handler
	d.logger.Debugf("Registered handler for topic: %s", topic)
}

// Topics returns the registered topics in sorted order.
func (d *MessageDispatcher) Topics() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	topics := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Dispatch routes payload to the handler of topic.
func (d *MessageDispatcher) Dispatch(topic string, payload []byte) error {
	d.mu.RLock()
	handler, ok := d.handlers[topic]
	if !ok {
		longest := -1
		for prefix, h := range d.handlers {
			if strings.HasPrefix(topic, prefix) && len(prefix) > longest {
				handler, longest = h, len(prefix)
			}
		}
		ok = longest >= 0
	}
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return handler.HandleMessage(topic, payload)
}

// ZeroMQService is the controller's bus endpoint: one PUB socket for
// everything this robot publishes and one SUB socket for everything it
// listens to.
type ZeroMQService struct {
	ctx        *zmq4.Context
	receiver   *MessageReceiver
	sender     *MessageSender
	dispatcher *MessageDispatcher
	logger     customlog.Logger
	running    atomic.Bool
	wg         sync.WaitGroup
}

// NewZeroMQService creates the sockets described by cfg.
func NewZeroMQService(cfg config.ZeroMQBootstrap, logger customlog.Logger) (*ZeroMQService, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	s := &ZeroMQService{
		ctx:        ctx,
		dispatcher: NewMessageDispatcher(logger),
		logger:     logger,
	}

	s.sender, err = newMessageSender(ctx, cfg, logger)
	if err != nil {
		ctx.Term()
		return nil, err
	}

	s.receiver, err = newMessageReceiver(ctx, cfg, s.dispatcher, logger, &s.wg)
	if err != nil {
		s.sender.Close()
		ctx.Term()
		return nil, err
	}

	return s, nil
}

// RegisterHandler adds a handler for a topic or topic prefix. Handlers must
// be registered before Start.
func (s *ZeroMQService) RegisterHandler(topic string, handler MessageHandler) {
	s.dispatcher.RegisterHandler(topic, handler)
}

// RegisterHandlerFunc adds a handler function for a topic or topic prefix
func (s *ZeroMQService) RegisterHandlerFunc(topic string, handler func(string, []byte) error) {
	s.dispatcher.RegisterHandler(topic, HandlerFunc(handler))
}

// Start begins the receive loop
func (s *ZeroMQService) Start() error {
	if s.running.Load() {
		return nil
	}
	s.logger.Infof("Starting ZeroMQ service")
	if err := s.receiver.Start(); err != nil {
		return err
	}
	s.running.Store(true)
	return nil
}

// Stop halts the ZeroMQ service and releases its sockets. It is safe to call
// on a service that was never started.
func (s *ZeroMQService) Stop() {
	s.running.Store(false)
	if s.ctx == nil {
		return
	}

	s.logger.Infof("Stopping ZeroMQ service")
	s.receiver.Stop()
	s.sender.Close()

	s.logger.Debugf("Waiting for receiver goroutine to finish...")
	s.wg.Wait()

	if s.ctx != nil {
		s.ctx.Term()
		s.ctx = nil
	}
	s.logger.Infof("ZeroMQ service stopped")
}

// PublishMessage sends a message with the given topic
func (s *ZeroMQService) PublishMessage(topic string, message []byte) error {
	if !s.running.Load() {
		return ErrServiceClosed
	}
	return s.sender.PublishMessage(topic, message)
}

// PublishJSON publishes data wrapped in a ZeroMQMessage envelope
func (s *ZeroMQService) PublishJSON(topic string, messageType string, data interface{}) error {
	msgData, err := EncodeJSON(messageType, data)
	if err != nil {
		return err
	}
	return s.PublishMessage(topic, msgData)
}

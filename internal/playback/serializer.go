package playback

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Publisher receives every accepted state transition, in revision order.
type Publisher interface {
	Publish(State)
}

type result struct {
	state State
	err   error
}

type request struct {
	cmd   Command
	reply chan result
}

type cachedResult struct {
	res     result
	expires time.Time
}

// Serializer admits concurrent command submissions and applies them to the
// machine one at a time, in arrival order. It is the only writer the machine
// ever sees, so the machine needs no internal locking.
type Serializer struct {
	machine   *Machine
	publisher Publisher
	requests  chan request
	queries   chan chan State
	done      chan struct{}
	logger    *logrus.Logger

	// Request-id dedup, touched only by the writer goroutine.
	recent      map[string]cachedResult
	dedupWindow time.Duration
}

// NewSerializer starts the single writer goroutine. queueDepth bounds the
// admission queue; submissions beyond it fail fast with ErrServerBusy.
func NewSerializer(machine *Machine, publisher Publisher, queueDepth int, dedupWindow time.Duration) *Serializer {
	if queueDepth < 1 {
		queueDepth = 1
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	s := &Serializer{
		machine:     machine,
		publisher:   publisher,
		requests:    make(chan request, queueDepth),
		queries:     make(chan chan State),
		done:        make(chan struct{}),
		logger:      logger,
		recent:      make(map[string]cachedResult),
		dedupWindow: dedupWindow,
	}
	go s.run()
	return s
}

// Submit queues a command and waits for its result. If the admission queue is
// full it returns ErrServerBusy immediately. If ctx ends while waiting, the
// command is still applied in order (commands are not cancelable once
// admitted) but the response is discarded.
func (s *Serializer) Submit(ctx context.Context, cmd Command) (State, error) {
	req := request{cmd: cmd, reply: make(chan result, 1)}
	select {
	case s.requests <- req:
	default:
		return State{}, ErrServerBusy
	}

	select {
	case res := <-req.reply:
		return res.state, res.err
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-s.done:
		return State{}, context.Canceled
	}
}

// Current returns a snapshot of the present state with the live position,
// read through the writer goroutine so it never observes a half-applied
// transition.
func (s *Serializer) Current() State {
	reply := make(chan State, 1)
	select {
	case s.queries <- reply:
		return <-reply
	case <-s.done:
		return s.machine.State(time.Now())
	}
}

// Close stops the writer goroutine. Pending submissions receive a canceled
// result.
func (s *Serializer) Close() {
	close(s.done)
}

func (s *Serializer) run() {
	for {
		select {
		case req := <-s.requests:
			req.reply <- s.apply(req.cmd)
		case reply := <-s.queries:
			reply <- s.machine.State(time.Now())
		case <-s.done:
			return
		}
	}
}

// apply runs on the writer goroutine only.
func (s *Serializer) apply(cmd Command) result {
	now := time.Now()
	s.pruneRecent(now)

	if cmd.RequestID != "" {
		if cached, ok := s.recent[cmd.RequestID]; ok {
			s.logger.WithFields(logrus.Fields{
				"request_id": cmd.RequestID,
				"type":       cmd.Type,
			}).Debug("Duplicate request, returning cached result")
			return cached.res
		}
	}

	before := s.machine.state.Revision
	st, err := s.machine.Apply(cmd, now)
	res := result{state: st, err: err}

	if cmd.RequestID != "" && s.dedupWindow > 0 {
		s.recent[cmd.RequestID] = cachedResult{res: res, expires: now.Add(s.dedupWindow)}
	}

	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"type": cmd.Type,
			"user": cmd.User,
		}).WithError(err).Warn("Command rejected")
		return res
	}

	if st.Revision != before && s.publisher != nil {
		s.publisher.Publish(st)
	}
	return res
}

func (s *Serializer) pruneRecent(now time.Time) {
	for id, c := range s.recent {
		if now.After(c.expires) {
			delete(s.recent, id)
		}
	}
}

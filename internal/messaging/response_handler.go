package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/store"
	"github.com/BTreeMap/NutriNest/internal/util"
	"github.com/google/uuid"
)

// DefaultTurnTimeout bounds a single turn, including every LLM round.
const DefaultTurnTimeout = 90 * time.Second

// RateLimitedMessage answers messages over the per-phone limit.
const RateLimitedMessage = "You're sending messages quickly. Please wait a moment and try again."

// ErrDuplicate is returned by Reply for an inbound message ID already seen.
var ErrDuplicate = errors.New("duplicate inbound message")

// MessageRouter turns one inbound message into a reply.
type MessageRouter interface {
	Route(ctx context.Context, phone, text string) string
}

// Opts holds configuration options for the ResponseHandler.
type Opts struct {
	Dedup       store.DedupRepo
	RateLimit   int           // messages per minute per phone; 0 disables
	TurnTimeout time.Duration // DefaultTurnTimeout when zero
}

// Option defines a configuration option for the ResponseHandler.
type Option func(*Opts)

// WithDedup records inbound message IDs so redeliveries are processed once.
func WithDedup(repo store.DedupRepo) Option {
	return func(o *Opts) {
		o.Dedup = repo
	}
}

// WithRateLimit caps inbound messages per phone per minute.
func WithRateLimit(perMinute int) Option {
	return func(o *Opts) {
		o.RateLimit = perMinute
	}
}

// WithTurnTimeout sets the deadline applied to each turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.TurnTimeout = d
	}
}

// ResponseHandler runs one turn per inbound message and sends the reply.
// Turns for the same phone never overlap; different phones run in parallel.
type ResponseHandler struct {
	msgService  Service
	router      MessageRouter
	dedup       store.DedupRepo
	limiter     *PhoneLimiter
	locks       *phoneLocks
	turnTimeout time.Duration
	wg          sync.WaitGroup
}

// NewResponseHandler creates a ResponseHandler. msgService may be nil when
// turns only arrive through the HTTP API.
func NewResponseHandler(msgService Service, router MessageRouter, opts ...Option) *ResponseHandler {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	return &ResponseHandler{
		msgService:  msgService,
		router:      router,
		dedup:       cfg.Dedup,
		limiter:     NewPhoneLimiter(cfg.RateLimit),
		locks:       newPhoneLocks(),
		turnTimeout: cfg.TurnTimeout,
	}
}

// Reply runs a turn for resp and returns the reply text. It returns
// ErrDuplicate when resp.MessageID was already recorded.
func (rh *ResponseHandler) Reply(ctx context.Context, resp models.Response) (string, error) {
	phone, err := rh.canonical(resp.From)
	if err != nil {
		slog.Warn("ResponseHandler.Reply: invalid sender", "error", err, "from", resp.From)
		return "", fmt.Errorf("invalid sender: %w", err)
	}

	if resp.MessageID != "" && rh.dedup != nil {
		isNew, err := rh.dedup.RecordInbound(ctx, resp.MessageID, phone)
		if err != nil {
			// Fail open.
			slog.Error("ResponseHandler.Reply: dedup record failed", "error", err, "message_id", resp.MessageID)
		} else if !isNew {
			slog.Info("ResponseHandler.Reply: duplicate message ignored", "phone", phone, "message_id", resp.MessageID)
			return "", ErrDuplicate
		}
	}

	if !rh.limiter.Allow(phone) {
		slog.Warn("ResponseHandler.Reply: rate limited", "phone", phone)
		return RateLimitedMessage, nil
	}

	unlock := rh.locks.Lock(phone)
	defer unlock()

	turnCtx, cancel := context.WithTimeout(ctx, rh.turnTimeout)
	defer cancel()

	turnID := uuid.NewString()
	start := time.Now()
	slog.Debug("ResponseHandler.Reply: turn started", "phone", phone, "turn_id", turnID, "body_length", len(resp.Body))
	reply := rh.router.Route(turnCtx, phone, resp.Body)
	slog.Info("ResponseHandler.Reply: turn finished", "phone", phone, "turn_id", turnID, "duration", time.Since(start))

	if resp.MessageID != "" && rh.dedup != nil {
		if err := rh.dedup.MarkProcessed(ctx, resp.MessageID); err != nil {
			slog.Error("ResponseHandler.Reply: mark processed failed", "error", err, "message_id", resp.MessageID)
		}
	}
	return reply, nil
}

// ProcessResponse runs a turn and sends the reply through the messaging service.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, resp models.Response) error {
	if rh.msgService == nil {
		return fmt.Errorf("no messaging service configured")
	}
	reply, err := rh.Reply(ctx, resp)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}
	phone, _ := rh.canonical(resp.From)
	sendCtx := WithIdempotencyKey(ctx, IdempotencyKey(resp.MessageID, phone, reply))
	if err := rh.msgService.SendMessage(sendCtx, phone, reply); err != nil {
		slog.Error("ResponseHandler.ProcessResponse: send failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// Start consumes the service's inbound stream until it closes or ctx is done.
// Each message runs in its own goroutine.
func (rh *ResponseHandler) Start(ctx context.Context) {
	if rh.msgService == nil {
		slog.Info("ResponseHandler.Start: no messaging service, inbound stream disabled")
		return
	}
	responses := rh.msgService.Responses()
	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-responses:
				if !ok {
					slog.Info("ResponseHandler.Start: responses channel closed")
					return
				}
				rh.wg.Add(1)
				go func(r models.Response) {
					defer rh.wg.Done()
					if err := rh.ProcessResponse(ctx, r); err != nil {
						slog.Error("ResponseHandler.Start: turn failed", "error", err, "from", r.From)
					}
				}(resp)
			}
		}
	}()
}

// Wait blocks until the consumer loop and all in-flight turns finish.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

func (rh *ResponseHandler) canonical(from string) (string, error) {
	if rh.msgService != nil {
		return rh.msgService.ValidateAndCanonicalizeRecipient(from)
	}
	return util.CanonicalPhone(from)
}

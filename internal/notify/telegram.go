// Package notify delivers domain events to Telegram chats.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"spacehire/internal/events"
	"spacehire/internal/models"
)

// TelegramSender is the subset of *tgbotapi.BotAPI the notifier uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BookingLookup resolves the parties of events that only carry a booking id.
type BookingLookup interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
}

// Config holds notifier settings.
type Config struct {
	// UserChats maps user ids to Telegram chat ids. Users without a chat
	// are skipped.
	UserChats  map[int64]int64
	AdminChats []int64
	Rate       float64
	Burst      int
	MaxRetries int
	RetryDelay time.Duration
}

// Notifier sends event messages to the parties of a booking and documents
// to the admin chats.
type Notifier struct {
	sender   TelegramSender
	bookings BookingLookup
	cfg      Config
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger
}

func NewNotifier(sender TelegramSender, bookings BookingLookup, cfg Config, logger zerolog.Logger) *Notifier {
	if cfg.Rate <= 0 {
		cfg.Rate = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 30
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Notifier{
		sender:   sender,
		bookings: bookings,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		sleep:    sleepCtx,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// Handler returns an event bus subscriber.
func (n *Notifier) Handler() events.EventHandler {
	return func(ctx context.Context, e events.Event) error {
		text := Format(e)
		if text == "" {
			return nil
		}
		var errs []error
		for _, chat := range n.recipients(ctx, e) {
			if err := n.send(ctx, tgbotapi.NewMessage(chat, text)); err != nil {
				errs = append(errs, fmt.Errorf("chat %d: %w", chat, err))
			}
		}
		return errors.Join(errs...)
	}
}

// SendDocument sends a file to every admin chat.
func (n *Notifier) SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	var errs []error
	for _, chat := range n.cfg.AdminChats {
		doc := tgbotapi.NewDocument(chat, tgbotapi.FileBytes{Name: filename, Bytes: bytes.Clone(raw)})
		doc.Caption = caption
		if err := n.send(ctx, doc); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chat, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) recipients(ctx context.Context, e events.Event) []int64 {
	users := make([]int64, 0, 2)
	clientID, okc := payloadInt(e.Payload, "client_id")
	hostID, okh := payloadInt(e.Payload, "host_id")
	if (!okc || !okh) && e.BookingID > 0 && n.bookings != nil {
		if b, err := n.bookings.GetBooking(ctx, e.BookingID); err == nil {
			clientID, hostID = b.ClientID, b.HostID
		} else {
			n.logger.Warn().Err(err).Int64("booking_id", e.BookingID).Msg("cannot resolve booking parties")
		}
	}
	switch e.Type {
	case events.PayoutCompleted, events.PayoutFailed:
		if h, ok := payloadInt(e.Payload, "host_id"); ok {
			users = append(users, h)
		}
	default:
		for _, id := range []int64{clientID, hostID} {
			// The actor already knows what they did.
			if id > 0 && id != e.ActorID {
				users = append(users, id)
			}
		}
	}

	var chats []int64
	for _, id := range users {
		if chat, ok := n.cfg.UserChats[id]; ok {
			chats = append(chats, chat)
		}
	}
	if e.Type == events.PayoutFailed {
		chats = append(chats, n.cfg.AdminChats...)
	}
	return chats
}

// send applies the rate limit and retries transient failures. Telegram 429
// answers are retried after the advertised delay; 400 and 403 are final.
func (n *Notifier) send(ctx context.Context, c tgbotapi.Chattable) error {
	var lastErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		_, err := n.sender.Send(c)
		if err == nil {
			return nil
		}
		lastErr = err

		delay := n.cfg.RetryDelay * time.Duration(attempt+1)
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case 429:
				if tgErr.RetryAfter > 0 {
					delay = time.Duration(tgErr.RetryAfter) * time.Second
				}
			case 400, 403:
				return err
			}
		}
		if attempt == n.cfg.MaxRetries {
			break
		}
		n.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying telegram send")
		if err := n.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func payloadInt(p map[string]any, key string) (int64, bool) {
	switch v := p[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

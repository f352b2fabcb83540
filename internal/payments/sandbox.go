package payments

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
)

// ErrSandboxDeclined is returned by a Sandbox told to fail.
var ErrSandboxDeclined = errors.New("sandbox: declined")

// Sandbox is a deterministic in-process Processor for local runs. Replaying
// an idempotency key returns the first result.
type Sandbox struct {
	mu        sync.Mutex
	intents   map[string]*Intent
	refunds   map[string]int64
	refunded  map[string]bool
	transfers map[string]string

	// FailAuthorize, FailRefund and FailTransfer make the next calls fail.
	FailAuthorize bool
	FailRefund    bool
	FailTransfer  bool
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		intents:   make(map[string]*Intent),
		refunds:   make(map[string]int64),
		refunded:  make(map[string]bool),
		transfers: make(map[string]string),
	}
}

// SandboxFee mimics a card processor: 2.9% plus 30 minor units.
func SandboxFee(amount int64) int64 {
	return (amount*29+500)/1000 + 30
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func (s *Sandbox) Authorize(ctx context.Context, req AuthorizeRequest) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAuthorize {
		return nil, ErrSandboxDeclined
	}
	if in, ok := s.intents[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		cp := *in
		return &cp, nil
	}
	id := shortHash(req.IdempotencyKey)
	in := &Intent{
		ID:           "pi_" + id,
		ClientSecret: "pi_" + id + "_secret",
		Fee:          SandboxFee(req.Amount),
	}
	s.intents[req.IdempotencyKey] = in
	cp := *in
	return &cp, nil
}

func (s *Sandbox) Refund(ctx context.Context, intentID string, amount int64, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRefund {
		return ErrSandboxDeclined
	}
	if key != "" && s.refunded[key] {
		return nil
	}
	s.refunded[key] = true
	s.refunds[intentID] += amount
	return nil
}

func (s *Sandbox) Transfer(ctx context.Context, accountID string, amount int64, currency, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailTransfer {
		return "", ErrSandboxDeclined
	}
	if id, ok := s.transfers[key]; ok {
		return id, nil
	}
	id := "tr_" + shortHash(key+accountID)
	s.transfers[key] = id
	return id, nil
}

// Refunded returns the total refunded on an intent and whether any refund exists.
func (s *Sandbox) Refunded(intentID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amt, ok := s.refunds[intentID]
	return amt, ok
}

// SetFail toggles failure injection under the lock.
func (s *Sandbox) SetFail(authorize, refund, transfer bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailAuthorize, s.FailRefund, s.FailTransfer = authorize, refund, transfer
}

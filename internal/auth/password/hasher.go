package password

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	apierr "github.com/victorgomez09/escuela/internal/auth"
)

const (
	DefaultCost    = 12
	DefaultTimeout = 5 * time.Second
)

// HasherConfig tunes the bcrypt work factor and how many hashes may run at once.
type HasherConfig struct {
	Cost        int
	Concurrency int64
	Timeout     time.Duration
}

// Hasher hashes and verifies passwords with bcrypt. Work runs on its own
// goroutine, bounded by a weighted semaphore, so a burst of logins cannot
// occupy every CPU.
type Hasher struct {
	cost    int
	timeout time.Duration
	sem     *semaphore.Weighted
}

func NewHasher(cfg HasherConfig) (*Hasher, error) {
	if cfg.Cost == 0 {
		cfg.Cost = DefaultCost
	}
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cfg.Cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = int64(runtime.NumCPU())
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Hasher{
		cost:    cfg.Cost,
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
	}, nil
}

// Hash returns a salted bcrypt digest of plaintext. Two calls with the same
// input never return the same digest.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	var digest []byte
	err := h.run(ctx, func() error {
		var err error
		digest, err = bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
		return err
	})
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apierr.Validation("password is too long")
		}
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A mismatch is (false, nil);
// a digest that cannot be parsed yields (false, ErrCorruptCredential).
func (h *Hasher) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	if _, err := bcrypt.Cost([]byte(digest)); err != nil {
		return false, apierr.Wrap(apierr.KindCorruptCredential, "stored digest is unreadable", err)
	}

	var cmpErr error
	err := h.run(ctx, func() error {
		cmpErr = bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
		return nil
	})
	if err != nil {
		return false, err
	}

	switch {
	case cmpErr == nil:
		return true, nil
	case errors.Is(cmpErr, bcrypt.ErrMismatchedHashAndPassword), errors.Is(cmpErr, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, apierr.Wrap(apierr.KindCorruptCredential, "stored digest is unreadable", cmpErr)
	}
}

// run executes fn on a pooled goroutine and waits for it or for ctx.
func (h *Hasher) run(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return apierr.Wrap(apierr.KindServiceUnavailable, "hashing pool saturated", err)
	}

	done := make(chan error, 1)
	go func() {
		defer h.sem.Release(1)
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return apierr.Wrap(apierr.KindServiceUnavailable, "hashing timed out", ctx.Err())
	}
}

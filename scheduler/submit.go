package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"griddeployer/ledger"
)

// TransactionSubmitter signs, serializes, and submits transactions. Each
// submission is an independent unit of success or failure; callers log and
// move on.
type TransactionSubmitter struct {
	reader ledger.Reader
	signer *ledger.Signer
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewTransactionSubmitter constructs a submitter for the operator key.
func NewTransactionSubmitter(reader ledger.Reader, signer *ledger.Signer, log *slog.Logger) *TransactionSubmitter {
	return &TransactionSubmitter{
		reader: reader,
		signer: signer,
		log:    log,
		sleep:  sleepCtx,
	}
}

// Submit seals and sends one transaction, returning its signature.
func (s *TransactionSubmitter) Submit(ctx context.Context, tx *ledger.Transaction) (ledger.Signature, error) {
	raw, err := tx.Seal(s.signer)
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("seal transaction: %w", err)
	}
	sig, err := s.reader.SubmitTransaction(ctx, raw)
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("submit transaction: %w", err)
	}
	return sig, nil
}

// SubmitAndConfirm submits and waits for confirmation, polling at the given
// interval. Used where a caller must not proceed optimistically, such as
// lookup-table extension.
func (s *TransactionSubmitter) SubmitAndConfirm(ctx context.Context, tx *ledger.Transaction, interval time.Duration, attempts int) (ledger.Signature, error) {
	sig, err := s.Submit(ctx, tx)
	if err != nil {
		return sig, err
	}
	if interval <= 0 {
		interval = time.Second
	}
	if attempts <= 0 {
		attempts = 10
	}
	for i := 0; i < attempts; i++ {
		confirmed, err := s.reader.ConfirmTransaction(ctx, sig)
		if err != nil {
			s.log.Warn("confirm poll failed", "signature", sig.String(), "err", err)
		} else if confirmed {
			return sig, nil
		}
		if err := s.sleep(ctx, interval); err != nil {
			return sig, err
		}
	}
	return sig, fmt.Errorf("transaction %s not confirmed after %d attempts", sig, attempts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

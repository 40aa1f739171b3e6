/*
auditor.go - Periodic conservation audit

PURPOSE:
  Every group's balances must sum to zero. Writers enforce this per unit of
  work; the Auditor re-checks it across all groups on a timer so that a
  violation introduced by a bug or by manual database edits is noticed.

DESIGN:
  - Runs in the caller's goroutine until ctx is cancelled (Run)
  - Checks once immediately, then every Interval
  - Reports violations to the log and to the conservation gauge
  - Never modifies balances

USAGE:
  auditor := NewAuditor(store, WithInterval(10*time.Minute))
  g.Go(func() error { return auditor.Run(ctx) })

SEE ALSO:
  - ledger/ledger.go: CheckConservation
*/
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/metrics"
)

const DefaultAuditInterval = time.Hour

// Violation is a group whose balances do not sum to zero.
type Violation struct {
	GroupID ledger.GroupID
	Err     *ledger.InvariantError
}

type Auditor struct {
	store    ledger.Store
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type AuditorOption func(*Auditor)

func WithInterval(d time.Duration) AuditorOption {
	return func(a *Auditor) { a.interval = d }
}

func WithAuditMetrics(m *metrics.Metrics) AuditorOption {
	return func(a *Auditor) { a.metrics = m }
}

func WithAuditLogger(logger *slog.Logger) AuditorOption {
	return func(a *Auditor) { a.logger = logger }
}

func NewAuditor(store ledger.Store, opts ...AuditorOption) *Auditor {
	a := &Auditor{
		store:    store,
		interval: DefaultAuditInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run audits until ctx is done. It returns nil on cancellation.
func (a *Auditor) Run(ctx context.Context) error {
	if a.interval <= 0 {
		a.logger.Info("conservation auditor disabled")
		return nil
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("conservation auditor started", "interval", a.interval)
	a.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			a.runOnce(ctx)
		case <-ctx.Done():
			a.logger.Info("conservation auditor stopped")
			return nil
		}
	}
}

func (a *Auditor) runOnce(ctx context.Context) {
	if _, err := a.CheckOnce(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("conservation audit failed", "error", err)
	}
}

// CheckOnce audits every group and returns the violations found.
func (a *Auditor) CheckOnce(ctx context.Context) ([]Violation, error) {
	groupIDs, err := a.store.ListGroupIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	var violations []Violation
	for _, id := range groupIDs {
		rows, err := a.store.LoadBalances(ctx, id)
		if err != nil {
			return violations, fmt.Errorf("load balances for %s: %w", id, err)
		}
		err = ledger.CheckConservation(id, rows)
		var inv *ledger.InvariantError
		if errors.As(err, &inv) {
			violations = append(violations, Violation{GroupID: id, Err: inv})
			a.logger.Error("conservation violated", "group_id", id, "sum", inv.Sum.String())
		}
	}

	a.metrics.SetViolations(len(violations))
	a.logger.Debug("conservation audit complete", "groups", len(groupIDs), "violations", len(violations))
	return violations, nil
}

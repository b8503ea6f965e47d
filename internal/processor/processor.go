// Package processor implements the result processor: it consumes
// check.results, increments task counters, evaluates filters, records
// found items idempotently, and notifies owners of first sightings.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/vhz-mon/marketwatch/internal/bus"
	"github.com/vhz-mon/marketwatch/internal/filter"
	"github.com/vhz-mon/marketwatch/internal/fingerprint"
	"github.com/vhz-mon/marketwatch/internal/model"
	"github.com/vhz-mon/marketwatch/internal/notifier"
	"github.com/vhz-mon/marketwatch/internal/store"
)

// Session is the slice of store.Session the processor needs.
type Session interface {
	Close() error
	GetTask(id int64) (*model.MonitoringTask, error)
	IncrementTotalChecks(taskID int64) error
	InsertFoundItem(item *model.FoundItem) (bool, error)
}

// Store opens sessions. Every handled message opens its own session and
// closes it before acknowledging.
type Store interface {
	NewSession(ctx context.Context) (Session, error)
}

// WrapStore adapts the concrete store to the narrow Store interface.
func WrapStore(st *store.Store) Store { return storeAdapter{st} }

type storeAdapter struct{ st *store.Store }

func (a storeAdapter) NewSession(ctx context.Context) (Session, error) {
	return a.st.NewSession(ctx)
}

// Processor consumes check.results and writes matched listings and
// notifications.
type Processor struct {
	store    Store
	bus      bus.Bus
	notifier notifier.Notifier
	logger   *slog.Logger
}

// New builds a Processor.
func New(st Store, b bus.Bus, n notifier.Notifier, logger *slog.Logger) *Processor {
	return &Processor{store: st, bus: b, notifier: n, logger: logger}
}

// Run blocks consuming check.results until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	return p.bus.ConsumeCheckResults(ctx, p.Handle)
}

// Handle processes one check result. Redelivery of the same result is
// harmless: the counter bump is the only non-idempotent write, and the
// found-item unique constraint keeps notifications at most once per
// listing.
func (p *Processor) Handle(ctx context.Context, res bus.CheckResult) error {
	log := p.logger.With("task_id", res.TaskID, "correlation_id", res.CorrelationID)

	sess, err := p.store.NewSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	task, err := sess.GetTask(res.TaskID)
	if err != nil {
		if err == store.ErrNotFound {
			log.Info("task missing, dropping result")
			return nil
		}
		return err
	}
	if !task.IsActive {
		log.Info("task inactive, dropping result")
		return nil
	}

	// Counters advance here, on result receipt, so total_checks counts
	// completed work rather than issued work.
	if err := sess.IncrementTotalChecks(task.ID); err != nil {
		return err
	}

	if !res.OK {
		log.Info("non-ok result, no listings to process", "kind", res.Kind)
		return nil
	}

	for _, wireListing := range res.Listings {
		listing := wireListing.ToModel()
		if !filter.Match(task.Filters, listing) {
			continue
		}
		if err := p.recordMatch(sess, task, listing, log); err != nil {
			log.Error("record match failed", "error", err)
		}
	}
	return nil
}

// recordMatch computes the fingerprint, inserts the found item, and
// notifies only when the insert created a genuinely new row.
func (p *Processor) recordMatch(sess Session, task *model.MonitoringTask, listing model.Listing, log *slog.Logger) error {
	fp := fingerprint.Compute(task.ID, listing)

	rawSummary, err := json.Marshal(listing)
	if err != nil {
		rawSummary = nil
	}

	item := &model.FoundItem{
		TaskID:         task.ID,
		Fingerprint:    fp,
		PriceCents:     listing.PriceCents,
		RawSummaryJSON: string(rawSummary),
	}

	inserted, err := sess.InsertFoundItem(item)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	if err := p.notifier.Notify(task.OwnerID, notifier.Match{TaskName: task.Name, Listing: listing}); err != nil {
		log.Error("notify failed", "error", err)
	}
	return nil
}

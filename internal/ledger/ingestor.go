package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hypernode-labs/engine/internal/config"
	"github.com/hypernode-labs/engine/internal/models"
	"github.com/hypernode-labs/engine/internal/storage"
)

// Redelivery windows after a reconnect are short, so a bounded cache of recent
// (program, signature, kind) triples is enough to deduplicate.
const dedupCacheSize = 4096

// programPrefix is the line prefix event markers must appear under. A marker
// string showing up anywhere else in a log line does not classify.
const programPrefix = "Program log:"

// Enqueuer accepts job descriptors for matching
type Enqueuer interface {
	Enqueue(ctx context.Context, d models.JobDescriptor) error
	Requeue(ctx context.Context, d models.JobDescriptor) error
}

// PendingLister returns jobs still awaiting a match
type PendingLister interface {
	PendingJobs(ctx context.Context, limit int) ([]models.JobDescriptor, error)
}

// Announcer receives completion and connection events for fanout
type Announcer interface {
	JobCompleted(ctx context.Context, signature string, ts time.Time)
	NodeConnected(ctx context.Context, signature string, ts time.Time)
}

// Ingestor subscribes to the monitored program log streams, classifies each
// batch into domain events and dispatches each event exactly once.
type Ingestor struct {
	client   *Client
	queue    Enqueuer
	pending  PendingLister
	notifier Announcer
	db       *storage.DB
	log      *slog.Logger
	programs config.LedgerConfig

	seen *lru.Cache[string, struct{}]
}

// NewIngestor creates an ingestor
func NewIngestor(client *Client, q Enqueuer, pending PendingLister, notifier Announcer, db *storage.DB, programs config.LedgerConfig, log *slog.Logger) (*Ingestor, error) {
	seen, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &Ingestor{
		client:   client,
		queue:    q,
		pending:  pending,
		notifier: notifier,
		db:       db,
		log:      log,
		programs: programs,
		seen:     seen,
	}, nil
}

// Start opens one subscription per monitored program. Streams for different
// programs run fully in parallel; batches within a stream are handled in
// arrival order.
func (in *Ingestor) Start(ctx context.Context) {
	in.subscribe(ctx, in.programs.NodeRegistryProgram)
	in.subscribe(ctx, in.programs.JobReceiptProgram)
	in.subscribe(ctx, in.programs.PaymentSplitterProgram)
	in.log.Info("ledger listeners active")
}

// Stop releases all subscription handles
func (in *Ingestor) Stop() {
	in.client.Close()
}

func (in *Ingestor) subscribe(ctx context.Context, program string) {
	if program == "" {
		return
	}
	in.client.Subscribe(ctx, program, func(ctx context.Context, batch LogBatch) {
		in.handleBatch(ctx, program, batch)
	})
}

func (in *Ingestor) handleBatch(ctx context.Context, program string, batch LogBatch) {
	if batch.Failed {
		// Failed transactions emit logs too; their events never took effect
		return
	}

	for _, kind := range Classify(batch.Logs) {
		if in.duplicate(program, batch.Signature, kind) {
			in.log.Debug("duplicate event dropped",
				"program", program, "signature", batch.Signature, "kind", kind)
			continue
		}
		in.dispatch(ctx, program, batch.Signature, kind)
	}
}

// dispatch routes one classified event into the pipeline
func (in *Ingestor) dispatch(ctx context.Context, program, signature string, kind models.EventKind) {
	now := time.Now()
	in.log.Info("ledger event", "kind", kind, "signature", signature, "program", program)

	switch kind {
	case models.EventJobCreated:
		err := in.queue.Enqueue(ctx, models.JobDescriptor{
			JobID:      signature,
			Signature:  signature,
			EnqueuedAt: now,
		})
		if err != nil {
			in.log.Error("failed to enqueue job", "signature", signature, "error", err)
		}

	case models.EventJobCompleted:
		in.notifier.JobCompleted(ctx, signature, now)

	case models.EventNodeRegistered:
		in.notifier.NodeConnected(ctx, signature, now)
		// New capacity may unblock jobs that previously found no candidate
		in.requeuePending(ctx)

	case models.EventNodeStatusUpdated, models.EventPaymentDistributed, models.EventPaymentProcessed:
		// Audit only
	}

	in.recordAudit(ctx, program, signature, kind, now)
}

// requeuePending pushes still-pending jobs back onto the match queue
func (in *Ingestor) requeuePending(ctx context.Context) {
	jobs, err := in.pending.PendingJobs(ctx, 100)
	if err != nil {
		in.log.Warn("failed to list pending jobs", "error", err)
		return
	}
	for _, d := range jobs {
		if err := in.queue.Requeue(ctx, d); err != nil {
			in.log.Warn("failed to requeue pending job", "job_id", d.JobID, "error", err)
		}
	}
	if len(jobs) > 0 {
		in.log.Info("requeued pending jobs after node registration", "count", len(jobs))
	}
}

func (in *Ingestor) recordAudit(ctx context.Context, program, signature string, kind models.EventKind, observed time.Time) {
	_, err := in.db.Pool.Exec(ctx,
		`INSERT INTO ledger_events (program_id, signature, kind, observed_at) VALUES ($1, $2, $3, $4)`,
		program, signature, kind, observed)
	if err != nil {
		in.log.Warn("failed to record ledger event", "signature", signature, "error", err)
	}
}

// duplicate records the event and reports whether it was already seen
func (in *Ingestor) duplicate(program, signature string, kind models.EventKind) bool {
	key := program + "|" + signature + "|" + string(kind)
	if in.seen.Contains(key) {
		return true
	}
	in.seen.Add(key, struct{}{})
	return false
}

var allKinds = []models.EventKind{
	models.EventNodeRegistered,
	models.EventNodeStatusUpdated,
	models.EventJobCreated,
	models.EventJobCompleted,
	models.EventPaymentDistributed,
	models.EventPaymentProcessed,
}

// Classify extracts the domain events announced in a log batch. A marker only
// counts when it appears as a standalone token on a program log line, so a
// payload that merely mentions an event name does not classify. A batch may
// announce several events; each kind is reported once.
func Classify(logs []string) []models.EventKind {
	var found []models.EventKind
	for _, kind := range allKinds {
		if containsMarker(logs, string(kind)) {
			found = append(found, kind)
		}
	}
	return found
}

func containsMarker(logs []string, marker string) bool {
	for _, line := range logs {
		rest, ok := strings.CutPrefix(line, programPrefix)
		if !ok {
			continue
		}
		for _, token := range strings.FieldsFunc(rest, func(r rune) bool {
			return !isWordRune(r)
		}) {
			if token == marker {
				return true
			}
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jaa/ariadl/internal/output"
	"github.com/jaa/ariadl/internal/progress"
	"github.com/jaa/ariadl/internal/queue"
	"github.com/jaa/ariadl/internal/rpc"
)

// Connection is the part of rpc.Client a batch needs.
type Connection interface {
	Send(req rpc.Request) error
	Install(h rpc.Handler) error
	Uninstall(h rpc.Handler)
}

type Summary struct {
	BatchID   string
	Submitted int
	Accepted  int
	Completed int
	Failed    int
	Retried   int
	// LastRate is the most recent aggregate throughput sample in MB/s.
	LastRate float64
}

type job struct {
	url     string
	out     string
	retries int
}

type outcome int

const (
	outcomeComplete outcome = iota + 1
	outcomeError
)

// Batch is the per-batch context and the inbound handler that drives it.
// All state below mu is touched only while mu is held; in practice only the
// connection's read loop mutates it.
type Batch struct {
	id         string
	dir        string
	conn       Connection
	progress   progress.Aggregator
	logger     *output.Logger
	maxRetries int

	mu        sync.Mutex
	queue     *queue.Tracker
	index     int
	completed int
	failed    int
	retried   int
	rate      float64
	accepted  bool
	total     int
	submitted []*job
	jobs      map[string]*job
	early     map[string]outcome
	lookups   []*job
	resubmits []*job

	once sync.Once
	done chan struct{}
	err  error
}

func newBatch(id string, dir string, conn Connection, opts Options) *Batch {
	agg := progress.Aggregator(progress.Nop{})
	if opts.NewProgress != nil {
		agg = opts.NewProgress(id)
	}
	return &Batch{
		id:         id,
		dir:        dir,
		conn:       conn,
		progress:   agg,
		logger:     opts.Logger.WithBatch(id),
		maxRetries: opts.MaxRetries,
		queue:      queue.New(),
		jobs:       map[string]*job{},
		early:      map[string]outcome{},
		done:       make(chan struct{}),
	}
}

func (b *Batch) ID() string {
	return b.id
}

// Done is closed once the batch has drained or failed.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch finishes. Cancelling ctx abandons the batch:
// the handler is uninstalled and the context error returned.
func (b *Batch) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-b.done:
	case <-ctx.Done():
		b.mu.Lock()
		b.finishLocked(ctx.Err())
		b.mu.Unlock()
		<-b.done
	}
	return b.Summary(), b.err
}

func (b *Batch) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Summary{
		BatchID:   b.id,
		Submitted: len(b.submitted),
		Accepted:  b.total,
		Completed: b.completed,
		Failed:    b.failed,
		Retried:   b.retried,
		LastRate:  b.rate,
	}
}

// Outstanding is the number of accepted jobs not yet completed or failed.
func (b *Batch) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

func (b *Batch) nextOutputName() string {
	b.index++
	return OutputName(b.index)
}

// HandleMessage classifies msg and routes it. Branch order matters: the first
// match wins and anything unrecognised is ignored.
func (b *Batch) HandleMessage(msg rpc.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finishedLocked() {
		return
	}

	switch {
	case msg.Method == rpc.NotificationDownloadComplete:
		b.onComplete(msg)
	case msg.ID == rpc.IDSpeed:
		b.onSpeed(msg)
	case msg.Method == rpc.NotificationDownloadError:
		b.onError(msg)
	case msg.ID == rpc.IDRetryQuery:
		b.onRetryLookup(msg)
	case msg.ID == rpc.IDAddURL:
		b.onAccepted(msg)
	}
}

func (b *Batch) HandleFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finishLocked(err)
}

func (b *Batch) onComplete(msg rpc.Message) {
	gid, err := msg.EventGID()
	if err != nil {
		b.finishLocked(err)
		return
	}
	b.completeGID(gid)
}

func (b *Batch) completeGID(gid string) {
	if !b.queue.Remove(gid) {
		b.deferOutcome(gid, outcomeComplete)
		return
	}
	b.completed++
	b.progress.Update(b.completed, nil)

	if err := b.conn.Send(rpc.GetGlobalStat(rpc.IDSpeed)); err != nil {
		b.logger.Warn("request throughput sample: %v", err)
	}
	b.checkDrainedLocked()
}

func (b *Batch) onSpeed(msg rpc.Message) {
	if msg.Error != nil {
		b.logger.Debug("throughput sample failed: %v", msg.Error)
		return
	}
	bytesPerSecond, err := msg.DownloadSpeed()
	if err != nil {
		b.logger.Warn("ignoring throughput sample: %v", err)
		return
	}
	b.rate = bytesPerSecond / 1_000_000
	b.progress.Update(b.completed, progress.Fields{progress.FieldSpeed: fmt.Sprintf("%.2f", b.rate)})
}

func (b *Batch) onError(msg rpc.Message) {
	b.logger.Error("download error: %s", msg.Raw())

	gid, err := msg.EventGID()
	if err != nil {
		b.finishLocked(err)
		return
	}
	b.errorGID(gid)
}

func (b *Batch) errorGID(gid string) {
	if !b.queue.Remove(gid) {
		b.deferOutcome(gid, outcomeError)
		return
	}

	j := b.jobs[gid]
	delete(b.jobs, gid)
	if j != nil && j.retries < b.maxRetries {
		j.retries++
		err := b.conn.Send(rpc.GetURIs(gid, rpc.IDRetryQuery))
		if err == nil {
			b.lookups = append(b.lookups, j)
			return
		}
		b.logger.Warn("request retry lookup for %s: %v", gid, err)
	}

	b.failed++
	details := map[string]any{"gid": gid}
	message := fmt.Sprintf("job %s failed", gid)
	if j != nil {
		details["url"] = j.url
		details["out"] = j.out
		details["attempts"] = j.retries + 1
		message = fmt.Sprintf("job %s failed after %d attempt(s): %s", gid, j.retries+1, j.url)
	}
	b.logger.Event(output.LevelError, output.EventJobFailed, message, details)
	b.checkDrainedLocked()
}

func (b *Batch) onRetryLookup(msg rpc.Message) {
	b.logger.Verbose("retry lookup response\n%s", msg.Pretty())
	if len(b.lookups) == 0 {
		return
	}
	j := b.lookups[0]
	b.lookups = b.lookups[1:]

	url := j.url
	uris, err := msg.URIs()
	switch {
	case err != nil:
		b.logger.Warn("retry lookup failed, resubmitting original url: %v", err)
	case len(uris) > 0 && uris[0].URI != "":
		url = uris[0].URI
	default:
		b.logger.Warn("retry lookup returned no uri, resubmitting original url")
	}
	b.resubmit(j, url)
}

// resubmit re-enters job submission for one url, keeping the job's output
// name. The new gid arrives as a single-result addUrl response.
func (b *Batch) resubmit(j *job, url string) {
	req := rpc.AddURI(url, rpc.Options{"out": j.out, "dir": b.dir}, rpc.IDAddURL)
	if err := b.conn.Send(req); err != nil {
		b.failed++
		b.logger.Event(output.LevelError, output.EventJobFailed,
			fmt.Sprintf("resubmit %s: %v", url, err), map[string]any{"url": url, "out": j.out})
		b.checkDrainedLocked()
		return
	}
	b.resubmits = append(b.resubmits, j)
	b.retried++
	b.logger.Event(output.LevelWarn, output.EventJobRetried,
		fmt.Sprintf("retrying %s (attempt %d)", url, j.retries+1),
		map[string]any{"url": url, "out": j.out, "attempt": j.retries + 1})
}

func (b *Batch) onAccepted(msg rpc.Message) {
	if msg.Error != nil {
		if !b.accepted {
			b.finishLocked(fmt.Errorf("daemon rejected batch: %w", msg.Error))
			return
		}
		if len(b.resubmits) > 0 {
			j := b.resubmits[0]
			b.resubmits = b.resubmits[1:]
			b.failed++
			b.logger.Event(output.LevelError, output.EventJobFailed,
				fmt.Sprintf("daemon rejected retry of %s: %v", j.url, msg.Error),
				map[string]any{"url": j.url, "out": j.out})
			b.checkDrainedLocked()
		}
		return
	}

	if gid, ok := msg.SingleGID(); ok {
		var j *job
		if len(b.resubmits) > 0 {
			j = b.resubmits[0]
			b.resubmits = b.resubmits[1:]
		}
		// a resubmitted job was already counted in the total when first accepted
		if b.track(gid, j) {
			b.replay(gid)
		}
		return
	}

	outcomes, ok := msg.MulticallGIDs()
	if !ok {
		b.finishLocked(&rpc.ProtocolError{Reason: "unexpected addUrl result", Payload: msg.Raw()})
		return
	}

	accepted := make([]string, 0, len(outcomes))
	for i, o := range outcomes {
		var j *job
		if i < len(b.submitted) {
			j = b.submitted[i]
		}
		if o.Fault != nil {
			b.failed++
			details := map[string]any{"fault": o.Fault.Message}
			if j != nil {
				details["url"] = j.url
			}
			b.logger.Event(output.LevelError, output.EventJobFailed,
				fmt.Sprintf("daemon rejected job %d: %v", i+1, o.Fault), details)
			continue
		}
		if b.track(o.GID, j) {
			accepted = append(accepted, o.GID)
		}
	}

	if !b.accepted {
		b.accepted = true
		b.total = b.queue.Len()
		b.logger.Debug("starting queue size: %d", b.queue.Len())
		b.progress.Start(b.queue.Len(), progress.Fields{progress.FieldSpeed: "0.00"})
		b.logger.Event(output.LevelInfo, output.EventBatchStarted,
			fmt.Sprintf("batch started: %d of %d job(s) accepted", b.queue.Len(), len(b.submitted)),
			map[string]any{"accepted": b.queue.Len(), "submitted": len(b.submitted), "dir": b.dir})
	} else {
		b.total += len(accepted)
	}

	for _, gid := range accepted {
		b.replay(gid)
	}
	b.checkDrainedLocked()
}

func (b *Batch) track(gid string, j *job) bool {
	if !b.queue.Add(gid) {
		return false
	}
	if j != nil {
		b.jobs[gid] = j
	}
	return true
}

// deferOutcome remembers a completion or error for a gid whose acceptance has
// not been seen yet, so it can be applied once it is. Outcomes for gids that
// cannot belong to this batch are dropped.
func (b *Batch) deferOutcome(gid string, o outcome) {
	if b.accepted && len(b.resubmits) == 0 {
		b.logger.Debug("ignoring outcome for unknown job %s", gid)
		return
	}
	b.early[gid] = o
}

func (b *Batch) replay(gid string) {
	o, ok := b.early[gid]
	if !ok {
		return
	}
	delete(b.early, gid)
	switch o {
	case outcomeComplete:
		b.completeGID(gid)
	case outcomeError:
		b.errorGID(gid)
	}
}

func (b *Batch) checkDrainedLocked() {
	if !b.accepted || b.queue.Len() > 0 || len(b.lookups) > 0 || len(b.resubmits) > 0 {
		return
	}
	b.finishLocked(nil)
}

func (b *Batch) finishedLocked() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// finishLocked resolves the batch exactly once.
func (b *Batch) finishLocked(err error) {
	b.once.Do(func() {
		b.err = err
		b.conn.Uninstall(b)

		summary := fmt.Sprintf("batch finished: %d/%d completed", b.completed, b.total)
		if b.failed > 0 {
			summary += fmt.Sprintf(", %d failed", b.failed)
		}
		level := output.LevelInfo
		details := map[string]any{
			"completed": b.completed,
			"accepted":  b.total,
			"failed":    b.failed,
			"retried":   b.retried,
		}
		if err != nil {
			level = output.LevelError
			summary = fmt.Sprintf("batch aborted after %d/%d completed: %v", b.completed, b.total, err)
			details["error"] = err.Error()
			if errors.Is(err, context.Canceled) {
				level = output.LevelWarn
			}
		}
		b.logger.Event(level, output.EventBatchFinished, summary, details)
		close(b.done)
	})
}

package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jaa/ariadl/internal/output"
	"github.com/jaa/ariadl/internal/progress"
	"github.com/jaa/ariadl/internal/rpc"
)

const (
	OutputNameWidth  = 16
	OutputNameSuffix = ".encr"
)

// OutputName is the file name for the index-th URL of a batch, e.g.
// 0000000000000001.encr.
func OutputName(index int) string {
	return fmt.Sprintf("%0*d%s", OutputNameWidth, index, OutputNameSuffix)
}

type Options struct {
	// MaxRetries bounds resubmissions per URL after a daemon-reported error.
	// Zero drops errored jobs.
	MaxRetries  int
	Logger      *output.Logger
	NewProgress func(batchID string) progress.Aggregator
	NewID       func() string
}

type Downloader struct {
	conn Connection
	opts Options
}

func NewDownloader(conn Connection, opts Options) *Downloader {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Downloader{conn: conn, opts: opts}
}

// Submit sends urls as one system.multicall of aria2.addUri calls and returns
// without waiting. The returned batch resolves when every accepted job has
// completed or failed.
func (d *Downloader) Submit(urls []string, dir string) (*Batch, error) {
	b := newBatch(d.opts.NewID(), dir, d.conn, d.opts)

	if len(urls) == 0 {
		b.mu.Lock()
		b.accepted = true
		b.finishLocked(nil)
		b.mu.Unlock()
		return b, nil
	}

	calls := make([]rpc.MulticallElement, 0, len(urls))
	for _, url := range urls {
		j := &job{url: url, out: b.nextOutputName()}
		b.submitted = append(b.submitted, j)
		calls = append(calls, rpc.NewMulticallElement(rpc.MethodAddURI,
			rpc.AddURIParams(url, rpc.Options{"out": j.out, "dir": dir})))
	}

	if err := d.conn.Install(b); err != nil {
		return nil, err
	}
	if err := d.conn.Send(rpc.Multicall(calls, rpc.IDAddURL)); err != nil {
		d.conn.Uninstall(b)
		return nil, fmt.Errorf("submit batch: %w", err)
	}
	b.logger.Debug("submitted %d url(s) to %s", len(urls), dir)
	return b, nil
}

// DownloadURLs submits urls and waits for the batch to finish.
func (d *Downloader) DownloadURLs(ctx context.Context, urls []string, dir string) (Summary, error) {
	b, err := d.Submit(urls, dir)
	if err != nil {
		return Summary{}, err
	}
	return b.Wait(ctx)
}

package batch

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

// progress tracks dispatched units and reports them periodically.
type progress struct {
	phase   model.Phase
	runID   string
	total   int64
	cached  int64
	blocked int64
	start   time.Time
	now     func() time.Time

	done    atomic.Int64
	errored atomic.Int64
	bar     *progressbar.ProgressBar
}

// stderrIsTerminal reports whether a progress bar would be visible.
func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newProgress(phase model.Phase, runID string, total, cached, blocked int, barOut io.Writer, now func() time.Time) *progress {
	p := &progress{
		phase:   phase,
		runID:   runID,
		total:   int64(total),
		cached:  int64(cached),
		blocked: int64(blocked),
		start:   now(),
		now:     now,
	}
	if barOut != nil && total > 0 {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("enriching "+string(phase)),
			progressbar.OptionSetWriter(barOut),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	return p
}

func (p *progress) record(failed bool) {
	p.done.Add(1)
	if failed {
		p.errored.Add(1)
	}
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// eta estimates the time left from the observed rate.
func (p *progress) eta() (rate float64, eta time.Duration) {
	done := p.done.Load()
	elapsed := p.now().Sub(p.start).Seconds()
	if done == 0 || elapsed <= 0 {
		return 0, 0
	}
	rate = float64(done) / elapsed
	remaining := p.total - done
	if remaining <= 0 {
		return rate, 0
	}
	return rate, time.Duration(float64(remaining) / rate * float64(time.Second))
}

func (p *progress) log() {
	rate, eta := p.eta()
	done := p.done.Load()
	zap.L().Info("phase progress",
		zap.String("run_id", p.runID),
		zap.String("phase", string(p.phase)),
		zap.String("processed", humanize.Comma(done)+"/"+humanize.Comma(p.total)),
		zap.Int64("cached", p.cached),
		zap.Int64("blocked", p.blocked),
		zap.Int64("errored", p.errored.Load()),
		zap.String("rate", humanize.FtoaWithDigits(rate, 2)+"/s"),
		zap.Duration("eta", eta.Round(time.Second)),
	)
}

// report logs every interval until ctx is done.
func (p *progress) report(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.log()
		}
	}
}

func (p *progress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

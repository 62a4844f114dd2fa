// Package scan owns the scan lifecycle: one scan at a time, a FIFO queue of
// discovered files drained by a single worker, cooperative stop between
// items, and a bounded log readable while the worker runs.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/imgraph/internal/analyzer"
	"github.com/kalambet/imgraph/internal/discovery"
	"github.com/kalambet/imgraph/internal/storage"
)

var (
	// ErrScanRunning is returned by Start while another scan is active.
	ErrScanRunning = errors.New("scan already running")
	// ErrNotScanning is returned by operations that need an active scan.
	ErrNotScanning = errors.New("no scan running")
)

// Scan statuses.
const (
	StatusIdle     = "idle"
	StatusScanning = "scanning"
)

// LogCapacity is the number of log entries kept in a Progress snapshot.
const LogCapacity = 50

// Analyzer produces the analysis for one file.
type Analyzer interface {
	Analyze(ctx context.Context, path string, opts analyzer.Options) (analyzer.Result, error)
}

// ItemWriter persists analyzed items.
type ItemWriter interface {
	UpsertItem(in storage.ItemInput) (int64, error)
}

// Started describes an accepted scan.
type Started struct {
	ScanID string `json:"scan_id"`
	Total  int    `json:"total"`
}

// Progress is an immutable snapshot of the scan state.
type Progress struct {
	ScanID    string   `json:"scan_id"`
	Status    string   `json:"status"`
	Total     int      `json:"total"`
	Processed int      `json:"processed"`
	Current   string   `json:"current"`
	Log       []string `json:"log"`
}

// Controller runs scans. The zero value is not usable; call NewController.
type Controller struct {
	analyzer Analyzer
	store    ItemWriter
	logger   *slog.Logger
	now      func() time.Time
	discover func(root string) ([]string, error)

	mu        sync.Mutex
	status    string
	starting  bool // discovery in progress; counts as active
	scanID    string
	total     int
	processed int
	current   string
	stop      bool
	log       *ringLog
	done      chan struct{}
}

// NewController creates an idle Controller.
func NewController(a Analyzer, store ItemWriter) *Controller {
	return &Controller{
		analyzer: a,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		discover: discovery.Discover,
		status:   StatusIdle,
		log:      newRingLog(LogCapacity),
	}
}

// Start discovers the files under root and launches the worker. It returns
// ErrScanRunning while a scan is active and *discovery.InvalidRootError for a
// bad root; neither changes the visible state, including the previous scan's
// log. The worker outlives ctx; use Stop to end it early.
func (c *Controller) Start(ctx context.Context, root string, opts analyzer.Options) (Started, error) {
	c.mu.Lock()
	if c.activeLocked() {
		c.mu.Unlock()
		return Started{}, ErrScanRunning
	}
	c.starting = true
	c.mu.Unlock()

	files, err := c.discover(root)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		return Started{}, err
	}

	queue := make(chan string, len(files))
	for _, f := range files {
		queue <- f
	}
	close(queue)

	scanID := uuid.New().String()
	done := make(chan struct{})
	c.status = StatusScanning
	c.scanID = scanID
	c.total = len(files)
	c.processed = 0
	c.current = ""
	c.stop = false
	c.done = done
	c.log.reset()
	c.appendLocked(fmt.Sprintf("scan started: %d files in %s", len(files), root))

	go c.run(context.WithoutCancel(ctx), queue, opts, done)

	return Started{ScanID: scanID, Total: len(files)}, nil
}

// activeLocked reports whether a scan is running or being started.
// c.mu must be held.
func (c *Controller) activeLocked() bool {
	return c.status == StatusScanning || c.starting
}

// WhenIdle calls fn with the controller locked so that no scan can start
// until fn returns. It returns ErrScanRunning without calling fn while a scan
// is active.
func (c *Controller) WhenIdle(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeLocked() {
		return ErrScanRunning
	}
	return fn()
}

// Stop asks the running scan to end after the item in flight. It returns
// false when no scan is running.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusScanning {
		return false
	}
	if !c.stop {
		c.stop = true
		c.appendLocked("stop requested")
	}
	return true
}

// Progress returns a snapshot of the current or last scan.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := Progress{
		ScanID:    c.scanID,
		Status:    c.status,
		Total:     c.total,
		Processed: c.processed,
		Log:       c.log.entries(),
	}
	if c.current != "" {
		p.Current = filepath.Base(c.current)
	}
	return p
}

// Running reports whether a scan is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

// Wait blocks until the active scan's worker has exited. It returns at once
// when no scan was ever started.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Controller) run(ctx context.Context, queue <-chan string, opts analyzer.Options, done chan struct{}) {
	stopped := false
	defer func() {
		c.mu.Lock()
		verb := "complete"
		if stopped {
			verb = "stopped"
		}
		c.appendLocked(fmt.Sprintf("scan %s: %d/%d files", verb, c.processed, c.total))
		c.status = StatusIdle
		c.current = ""
		close(done)
		c.mu.Unlock()
	}()

	for path := range queue {
		c.mu.Lock()
		if c.stop {
			stopped = true
			c.mu.Unlock()
			return
		}
		c.current = path
		c.mu.Unlock()

		c.processItem(ctx, path, opts)

		c.mu.Lock()
		c.processed++
		c.mu.Unlock()
	}
}

// processItem analyzes and stores one file. Every failure is logged and
// swallowed so the scan moves on to the next item.
func (c *Controller) processItem(ctx context.Context, path string, opts analyzer.Options) {
	name := filepath.Base(path)
	defer func() {
		if r := recover(); r != nil {
			c.logf("error processing %s: panic: %v", name, r)
		}
	}()

	res, err := c.analyzer.Analyze(ctx, path, opts)
	if err != nil {
		c.logf("skipped %s: %v", name, err)
		return
	}
	if res.RemoteErr != nil {
		c.logf("provider error for %s (%s: %v); used local analysis", name, res.RemoteErr.Reason, res.RemoteErr.Err)
	}

	itemType := res.ItemType
	if itemType == "" {
		itemType = analyzer.TypeOf(path)
	}

	// The analyzer already tags text from its bounded prefix; only images
	// fall back to caption and OCR tokens here.
	tags := res.Tags
	if len(tags) == 0 && itemType == storage.TypeImage {
		tags = analyzer.HeuristicTags(res.Caption+" "+res.Content, analyzer.ImageTagMinLen)
	}
	if _, err := c.store.UpsertItem(storage.ItemInput{
		Path:      path,
		Type:      itemType,
		Caption:   res.Caption,
		Content:   res.Content,
		Embedding: res.Embedding,
		Tags:      tags,
	}); err != nil {
		c.logf("persist failed for %s: %v", name, err)
		return
	}

	c.logf("processed %s via %s in %.2fs", name, res.Method, res.Duration.Seconds())
}

func (c *Controller) logf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(fmt.Sprintf(format, args...))
}

// appendLocked adds a timestamped entry to the ring and mirrors it to slog.
// c.mu must be held.
func (c *Controller) appendLocked(msg string) {
	c.log.add(c.now().Format("15:04:05") + " " + msg)
	c.logger.Info(msg, "scan_id", c.scanID)
}

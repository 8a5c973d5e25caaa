package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/channelcrawler/internal/channel"
	"github.com/JakeFAU/channelcrawler/internal/clock"
	collyfetcher "github.com/JakeFAU/channelcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/channelcrawler/internal/metrics"
)

const (
	maxLoggedExtractionErrors = 5
	failureSampleSize         = 5
)

// ErrNoMessages marks a fetched page without message fragments.
var ErrNoMessages = errors.New("no messages on page")

// Deps are the collaborators of a Crawler. Connectivity and Proxies are
// optional.
type Deps struct {
	Fetcher      Fetcher
	Extractor    Extractor
	Messages     MessageStore
	Bios         BioStore
	Checkpoints  Checkpoints
	IDs          IDGenerator
	Connectivity ConnectivityChecker
	Proxies      ProxyChecker
	Clock        clock.Clock
	Logger       *zap.Logger
}

// Crawler runs crawl cycles over a channel list.
type Crawler struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

type channelResult struct {
	channelID   string
	newPosts    int
	bio         *channel.Bio
	rateLimited bool
	err         error
}

// New builds a Crawler. cfg is validated by Run.
func New(cfg Config, deps Deps) *Crawler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{cfg: cfg, deps: deps, log: logger.Named("crawler")}
}

// RunCycle crawls every channel once. It only returns an error when ctx is
// done; channel failures are reported in the CycleReport.
func (c *Crawler) RunCycle(ctx context.Context, channels []string) (CycleReport, error) {
	report := CycleReport{StartedAt: c.deps.Clock.Now()}
	if id, err := c.deps.IDs.NewID(); err == nil {
		report.ID = id
	} else {
		c.log.Warn("cycle id generation failed", zap.Error(err))
	}
	log := c.log.With(zap.String("cycle_id", report.ID))
	log.Info("crawl cycle started", zap.Int("channels", len(channels)))

	queue := newBatchQueue(channels, c.cfg.BatchSize, c.cfg.MinBatchSize)
	rateLimited := false
	for n := 1; !queue.empty(); n++ {
		batch, shrunk := queue.next(rateLimited)
		if shrunk {
			log.Warn("rate limiting detected, reduced batch",
				zap.Int("batch", n),
				zap.Int("size", len(batch)),
				zap.Duration("delay", c.cfg.RateLimitDelay),
			)
			metrics.ObserveRateLimitDelay("batch", c.cfg.RateLimitDelay)
			if err := c.deps.Clock.Sleep(ctx, c.cfg.RateLimitDelay); err != nil {
				return c.finish(report, log), err
			}
		}

		start := c.deps.Clock.Now()
		results, err := c.runBatch(ctx, batch)
		summary := BatchReport{Size: len(batch), Shrunk: shrunk}
		for _, res := range results {
			if res.err != nil {
				summary.Failures++
			}
			summary.RateLimited = summary.RateLimited || res.rateLimited
		}
		report.add(summary, results)
		if err != nil {
			return c.finish(report, log), err
		}
		rateLimited = summary.RateLimited

		c.flushBios(ctx, results, log)

		log.Info("batch completed",
			zap.Int("batch", n),
			zap.Int("size", summary.Size),
			zap.Int("failures", summary.Failures),
			zap.Int("remaining", queue.remaining()),
			zap.Duration("duration", c.deps.Clock.Now().Sub(start)),
		)

		if summary.Failures*2 > summary.Size && !queue.empty() {
			delay := min(c.cfg.MaxFailureDelay, time.Duration(summary.Failures)*c.cfg.FailureDelay)
			log.Warn("high failure rate in batch, delaying next batch",
				zap.Int("failures", summary.Failures),
				zap.Int("size", summary.Size),
				zap.Duration("delay", delay),
			)
			if err := c.deps.Clock.Sleep(ctx, delay); err != nil {
				return c.finish(report, log), err
			}
		}
	}
	return c.finish(report, log), nil
}

func (c *Crawler) finish(report CycleReport, log *zap.Logger) CycleReport {
	report.Duration = c.deps.Clock.Now().Sub(report.StartedAt)
	metrics.ObserveCycle(report.Duration)
	log.Info("crawl cycle completed",
		zap.Int("new_posts", report.NewPosts),
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failures)),
		zap.Int("batches", len(report.Batches)),
		zap.Duration("duration", report.Duration),
	)
	for _, f := range sampleFailures(report.Failures, failureSampleSize) {
		log.Warn("channel failed", zap.String("channel", f.ChannelID), zap.String("reason", f.Reason))
	}
	return report
}

// runBatch processes a batch with up to Concurrency channels in flight.
// Results keep the batch order.
func (c *Crawler) runBatch(ctx context.Context, batch []string) ([]channelResult, error) {
	results := make([]channelResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, channelID := range batch {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = c.processChannel(gctx, channelID)
			return c.deps.Clock.Sleep(gctx, c.cfg.PolitenessDelay)
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return processed(results), err
	}
	return results, nil
}

func processed(results []channelResult) []channelResult {
	out := results[:0:0]
	for _, res := range results {
		if res.channelID != "" {
			out = append(out, res)
		}
	}
	return out
}

func (c *Crawler) flushBios(ctx context.Context, results []channelResult, log *zap.Logger) {
	var bios channel.Bios
	for _, res := range results {
		if res.bio != nil {
			bios = append(bios, *res.bio)
		}
	}
	if len(bios) == 0 {
		return
	}
	if _, err := c.deps.Bios.Save(ctx, bios); err != nil {
		log.Error("saving bios failed", zap.Int("bios", len(bios)), zap.Error(err))
		return
	}
	log.Debug("saved bios", zap.Int("bios", len(bios)))
}

// processChannel runs fetch, extract, dedup, save and checkpoint for one
// channel. Failures are returned in the result, never as panics.
func (c *Crawler) processChannel(ctx context.Context, channelID string) (res channelResult) {
	res.channelID = channelID
	log := c.log.With(zap.String("channel", channelID))
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic processing channel: %v", r)
			log.Error("channel processing panicked", zap.Any("panic", r))
		}
		metrics.ObserveChannel(res.err == nil)
	}()

	existing := c.deps.Messages.Load(ctx, channelID)
	checkpoint := c.deps.Checkpoints.Get(channelID)
	log.Debug("processing channel", zap.Int("existing", len(existing)), zap.Timep("checkpoint", checkpoint))

	fetchCtx := ctx
	if c.cfg.ChannelTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.cfg.ChannelTimeout)
		defer cancel()
	}
	page, err := c.deps.Fetcher.FetchChannelPage(fetchCtx, channelID, c.cfg.UseProxies || c.cfg.RequireProxies)
	if err != nil {
		res.rateLimited = errors.Is(err, collyfetcher.ErrRateLimited)
		res.err = err
		log.Warn("fetch failed", zap.Bool("rate_limited", res.rateLimited), zap.Error(err))
		return res
	}
	if len(page.Fragments) == 0 {
		res.err = ErrNoMessages
		log.Warn("no messages found")
		return res
	}

	var doc *goquery.Selection
	if page.Document != nil {
		doc = page.Document.Selection
	}
	// On failure the extractor still returns a placeholder carrying the
	// error, which is stored like any other bio.
	bio, err := c.deps.Extractor.Bio(doc, channelID)
	if err != nil {
		metrics.ObserveExtractionError("bio")
		log.Warn("bio extraction failed, storing placeholder", zap.Error(err))
	}
	res.bio = &bio

	fetched := c.extractPosts(page, channelID, log)
	fresh, latest := channel.SelectNew(fetched, existing.IDs(), checkpoint)
	if len(fresh) == 0 {
		log.Debug("no new messages")
		return res
	}

	merged := append(append(channel.Posts{}, existing...), fresh...)
	if _, err := c.deps.Messages.Save(ctx, channelID, merged); err != nil {
		res.err = fmt.Errorf("save messages: %w", err)
		log.Error("saving messages failed", zap.Int("new", len(fresh)), zap.Error(err))
		return res
	}
	res.newPosts = len(fresh)
	metrics.AddPostsIngested(len(fresh))
	log.Info("saved new messages", zap.Int("new", len(fresh)), zap.Int("total", len(merged)))

	if _, err := c.deps.Checkpoints.Advance(ctx, channelID, *latest); err != nil {
		log.Error("advancing checkpoint failed", zap.Time("latest", *latest), zap.Error(err))
	}
	return res
}

func (c *Crawler) extractPosts(page *collyfetcher.Page, channelID string, log *zap.Logger) []channel.Post {
	posts := make([]channel.Post, 0, len(page.Fragments))
	failures := 0
	for _, frag := range page.Fragments {
		post, err := c.deps.Extractor.Post(frag, channelID)
		if err != nil {
			failures++
			metrics.ObserveExtractionError("post")
			switch {
			case failures < maxLoggedExtractionErrors:
				log.Error("invalid message", zap.Error(err))
			case failures == maxLoggedExtractionErrors:
				log.Error("multiple invalid messages, suppressing further errors", zap.Error(err))
			}
			continue
		}
		posts = append(posts, post)
	}
	if failures > 0 {
		log.Warn("message extraction errors", zap.Int("failures", failures), zap.Int("fragments", len(page.Fragments)))
	}
	return posts
}

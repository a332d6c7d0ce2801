// Package monitor loads pages and reports the traffic they cause: the
// document requests, the sub-resources they embed, the redirects they go
// through and the links followed from them.
//
// The collector runs synchronously, so every event reaches the Sink from
// the goroutine that called Run, one at a time.
package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/traffic-weaver/internal/config"
	"github.com/alvmarrod/traffic-weaver/internal/graph"
)

const maxRedirects = 10

// Sink receives the observed traffic
type Sink interface {
	AddRequest(rootURL string, req graph.Request) error
	AddRedirect(r graph.Redirect) error
	AddReferral(fromURL string, req graph.Request) error
}

// PageCallback is told about every page load, successful or not
type PageCallback func(pageURL string, ok bool, elapsed time.Duration)

// Options bound a monitoring run
type Options struct {
	MaxDepth         int
	MaxHostsPerRoot  int
	MaxOutboundLinks int
	RequestTimeout   time.Duration
	RequestDelay     time.Duration
	UserAgent        string
}

// OptionsFromConfig converts the runtime configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxDepth:         cfg.MaxDepth,
		MaxHostsPerRoot:  cfg.MaxHostsPerRoot,
		MaxOutboundLinks: cfg.MaxOutboundLinks,
		RequestTimeout:   time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		RequestDelay:     time.Duration(cfg.RequestDelayMs) * time.Millisecond,
		UserAgent:        cfg.UserAgent,
	}
}

// embedded sub-resources and the attribute holding their URL
var embeddedSelectors = []struct {
	selector string
	attr     string
}{
	{"script[src]", "src"},
	{"img[src]", "src"},
	{"link[href]", "href"},
	{"iframe[src]", "src"},
}

// Monitor drives page loads and reports their traffic to a Sink
type Monitor struct {
	opts    Options
	sink    Sink
	onPage  PageCallback
	queue   *Queue
	limiter *HostLimiter

	// state of the page being loaded
	current page
	landing string
	started time.Time
	links   []string

	sinkErrors int
	log        *logrus.Entry
}

// New creates a monitor reporting to sink. onPage may be nil.
func New(opts Options, sink Sink, onPage PageCallback) *Monitor {
	if opts.MaxHostsPerRoot < 1 {
		opts.MaxHostsPerRoot = 1
	}
	return &Monitor{
		opts:    opts,
		sink:    sink,
		onPage:  onPage,
		queue:   NewQueue(),
		limiter: NewHostLimiter(opts.MaxHostsPerRoot),
		log:     logrus.WithField("component", "monitor"),
	}
}

// Run loads the seeds and every page reachable within the limits, then
// returns. Cancelling ctx stops the run after the page in progress.
func (m *Monitor) Run(ctx context.Context, seeds []string) error {
	collector, err := m.newCollector(ctx)
	if err != nil {
		return err
	}

	for _, seed := range seeds {
		host := hostOf(seed)
		if host == "" {
			return errors.Wrapf(graph.ErrPrecondition, "invalid seed URL %q", seed)
		}
		m.limiter.Add(host)
		m.queue.Push(page{URL: seed})
	}

	visited := 0
	for {
		if err := ctx.Err(); err != nil {
			m.log.Infof("Monitoring interrupted after %d pages, %d left in queue", visited, m.queue.Size())
			return err
		}

		p, ok := m.queue.Pop()
		if !ok {
			break
		}
		m.current = p
		visited++

		if p.Referrer != "" {
			m.deliver(m.sink.AddReferral(p.Referrer, graph.Request{
				Method:    http.MethodGet,
				URL:       p.URL,
				Timestamp: time.Now(),
				Type:      graph.RequestRoot,
			}))
		}

		m.log.Debugf("Loading %s (depth=%d)", p.URL, p.Depth)
		if err := collector.Visit(p.URL); err != nil {
			m.log.Debugf("Visit of %s ended with: %v", p.URL, err)
		}
	}

	m.log.Infof("Monitoring finished: %d pages loaded, %d sink errors", visited, m.sinkErrors)
	return nil
}

// SinkErrors returns how many events the sink rejected
func (m *Monitor) SinkErrors() int { return m.sinkErrors }

func (m *Monitor) newCollector(ctx context.Context) (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.MaxDepth(0), // Managed manually via queue depth
	)
	if m.opts.UserAgent != "" {
		c.UserAgent = m.opts.UserAgent
	}
	if m.opts.RequestTimeout > 0 {
		c.SetRequestTimeout(m.opts.RequestTimeout)
	}
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: m.opts.RequestDelay}); err != nil {
		return nil, errors.Wrap(err, "failed to set request limits")
	}

	c.SetRedirectHandler(m.onRedirect)

	c.OnRequest(func(r *colly.Request) {
		m.landing = r.URL.String()
		m.started = time.Now()
		m.links = nil
	})

	c.OnResponse(func(r *colly.Response) {
		m.log.Infof("Fetched %s (depth=%d, status=%d)", m.landing, m.current.Depth, r.StatusCode)
		m.deliver(m.sink.AddRequest(m.landing, graph.Request{
			Method:    r.Request.Method,
			URL:       m.landing,
			Timestamp: time.Now(),
			Type:      graph.RequestRoot,
		}))
		if m.onPage != nil {
			m.onPage(m.landing, true, time.Since(m.started))
		}
	})

	for _, sel := range embeddedSelectors {
		attr := sel.attr
		c.OnHTML(sel.selector, func(e *colly.HTMLElement) {
			resource, ok := Resolve(m.landing, e.Attr(attr))
			if !ok {
				return
			}
			m.deliver(m.sink.AddRequest(m.landing, graph.Request{
				Method:    http.MethodGet,
				URL:       resource,
				Timestamp: time.Now(),
				Type:      graph.RequestEmbedded,
			}))
		})
	}

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		m.links = append(m.links, e.Attr("href"))
	})

	c.OnScraped(func(r *colly.Response) {
		m.followLinks()
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		m.log.Warnf("Failed to load %s: %v (status: %d)", m.current.URL, err, status)
		if m.onPage != nil {
			m.onPage(m.current.URL, false, time.Since(m.started))
		}
	})

	return c, nil
}

// onRedirect reports every hop and keeps track of where the page lands
func (m *Monitor) onRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.Newf("stopped after %d redirects", maxRedirects)
	}
	from := via[len(via)-1].URL.String()
	to := req.URL.String()

	m.deliver(m.sink.AddRedirect(graph.Redirect{
		InitialURL: from,
		FinalURL:   to,
		Type:       graph.RequestRoot,
		Timestamp:  time.Now(),
	}))
	m.landing = to
	return nil
}

// followLinks queues the links of the loaded page that are within limits
func (m *Monitor) followLinks() {
	nextDepth := m.current.Depth + 1
	if nextDepth > m.opts.MaxDepth {
		return
	}

	for _, link := range FilterLinks(m.landing, m.links, m.opts.MaxOutboundLinks) {
		host := hostOf(link)
		if !m.limiter.CanAdd(host) {
			continue
		}
		if m.queue.Push(page{URL: link, Depth: nextDepth, Referrer: m.landing}) {
			m.limiter.Add(host)
			m.log.Debugf("Queued %s (depth %d->%d)", link, m.current.Depth, nextDepth)
		}
	}
}

func (m *Monitor) deliver(err error) {
	if err == nil {
		return
	}
	m.sinkErrors++
	if graph.IsObserver(err) {
		m.log.Warnf("Observer failed while recording traffic: %v", err)
		return
	}
	m.log.Warnf("Traffic event dropped: %v", err)
}

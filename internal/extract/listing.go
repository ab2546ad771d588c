// Package extract turns the listing pages of the static portals into alerts
// using ordered selector heuristics.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/govwatch/internal/heuristic"
	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/sessionlog"
)

// Fetcher retrieves a page body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Cascade is a list of selectors tried in order inside an item block. The
// first one yielding non-empty text wins. "&" addresses the block itself.
type Cascade []string

// Config describes one static source.
type Config struct {
	Source      string
	DisplayName string
	BaseURL     string
	ListingURLs []string

	ItemSelectors     []string
	FallbackSelectors []string

	Title Cascade
	Body  Cascade
	Date  Cascade
	Link  Cascade

	Tipo    string
	Region  string
	Entidad string

	// MaxItemsPerPage caps items taken from one listing page. Zero means no cap.
	MaxItemsPerPage int
}

// ListingExtractor scrapes listing pages with a selector pipeline.
type ListingExtractor struct {
	cfg     Config
	fetcher Fetcher
	clock   scraper.Clock
	items   *heuristic.Pipeline[*goquery.Document, *goquery.Selection]
}

// NewListingExtractor validates cfg and builds the item pipeline.
func NewListingExtractor(cfg Config, fetcher Fetcher, clock scraper.Clock) (*ListingExtractor, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("listing extractor: source is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("listing extractor %s: fetcher is required", cfg.Source)
	}
	if len(cfg.ListingURLs) == 0 {
		return nil, &scraper.ConfigurationError{Source: cfg.Source, Reason: "no listing urls configured"}
	}
	if len(cfg.ItemSelectors) == 0 && len(cfg.FallbackSelectors) == 0 {
		return nil, &scraper.ConfigurationError{Source: cfg.Source, Reason: "no item selectors configured"}
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.Source
	}
	if clock == nil {
		clock = limaClock{}
	}
	return &ListingExtractor{
		cfg:     cfg,
		fetcher: fetcher,
		clock:   clock,
		items:   itemPipeline(cfg.ItemSelectors, cfg.FallbackSelectors),
	}, nil
}

type limaClock struct{}

func (limaClock) Now() time.Time { return time.Now().In(Lima) }

// itemPipeline tries each primary selector on its own, then the fallback
// selectors as one union. Fallback matches carry a lower confidence.
func itemPipeline(primary, fallback []string) *heuristic.Pipeline[*goquery.Document, *goquery.Selection] {
	strategies := make([]heuristic.Strategy[*goquery.Document, *goquery.Selection], 0, len(primary)+1)
	for _, sel := range primary {
		strategies = append(strategies, heuristic.Strategy[*goquery.Document, *goquery.Selection]{
			Name:  "primary:" + sel,
			Match: selectorMatch(sel, 1),
		})
	}
	if len(fallback) > 0 {
		union := strings.Join(fallback, ", ")
		strategies = append(strategies, heuristic.Strategy[*goquery.Document, *goquery.Selection]{
			Name:  "fallback:" + union,
			Match: selectorMatch(union, 0.5),
		})
	}
	return heuristic.New(strategies...)
}

func selectorMatch(sel string, confidence float64) func(*goquery.Document) (*goquery.Selection, float64, bool) {
	return func(doc *goquery.Document) (*goquery.Selection, float64, bool) {
		found := doc.Find(sel).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.TrimSpace(s.Text()) != ""
		})
		if found.Length() == 0 {
			return nil, 0, false
		}
		return found, confidence, true
	}
}

// Name returns the source key.
func (e *ListingExtractor) Name() string { return e.cfg.Source }

// Extract fetches every listing page and returns deduplicated alerts. A page
// that fails is logged and skipped; the error is only returned when every
// page failed.
func (e *ListingExtractor) Extract(ctx context.Context, log *sessionlog.Logger) (scraper.Output, error) {
	var (
		items    []Item
		failures int
		lastErr  error
	)
	for _, pageURL := range e.cfg.ListingURLs {
		if err := ctx.Err(); err != nil {
			return scraper.Output{Alerts: e.normalize(Dedupe(items))}, fmt.Errorf("extract %s: %w", e.cfg.Source, err)
		}
		pageItems, err := e.extractPage(ctx, pageURL, log)
		if err != nil {
			failures++
			lastErr = err
			log.Warn("Listing page failed", "url", pageURL, "error", err.Error())
			continue
		}
		items = append(items, pageItems...)
	}

	unique := Dedupe(items)
	if dropped := len(items) - len(unique); dropped > 0 {
		log.Debug("Dropped duplicate items", "count", dropped)
	}
	alerts := e.normalize(unique)
	if failures == len(e.cfg.ListingURLs) {
		return scraper.Output{Alerts: alerts}, fmt.Errorf("extract %s: all %d listing pages failed: %w", e.cfg.Source, failures, lastErr)
	}
	log.Info("Listing extraction finished", "items", len(alerts), "failed_pages", failures)
	return scraper.Output{Alerts: alerts}, nil
}

func (e *ListingExtractor) extractPage(ctx context.Context, pageURL string, log *sessionlog.Logger) ([]Item, error) {
	body, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return e.ParseDocument(doc, pageURL, log), nil
}

// ParseDocument runs the item pipeline and field cascades over one page.
func (e *ListingExtractor) ParseDocument(doc *goquery.Document, pageURL string, log *sessionlog.Logger) []Item {
	res, ok := e.items.Run(doc, func(strategy string, matched bool, _ float64) {
		if !matched {
			log.Debug("Item selector found nothing", "strategy", strategy, "url", pageURL)
		}
	})
	if !ok {
		log.Warn("No item selector matched", "url", pageURL)
		return nil
	}
	log.Info("Item selector matched", "strategy", res.Strategy, "confidence", res.Confidence, "count", res.Value.Length(), "url", pageURL)

	var (
		items    []Item
		mismatch int
	)
	res.Value.EachWithBreak(func(_ int, block *goquery.Selection) bool {
		it := Item{
			Title: textCascade(block, e.cfg.Title),
			Body:  textCascade(block, e.cfg.Body),
			Date:  dateCascade(block, e.cfg.Date),
			Link:  resolveLink(e.cfg.BaseURL, linkCascade(block, e.cfg.Link)),
		}
		if it.Title == "" {
			mismatch++
			return true
		}
		items = append(items, it)
		return e.cfg.MaxItemsPerPage <= 0 || len(items) < e.cfg.MaxItemsPerPage
	})
	if mismatch > 0 {
		log.Debug("Skipped blocks without a title", "count", mismatch, "url", pageURL)
	}
	return items
}

func (e *ListingExtractor) normalize(items []Item) []scraper.NormalizedAlert {
	now := e.clock.Now()
	alerts := make([]scraper.NormalizedAlert, 0, len(items))
	for _, it := range items {
		body := it.Body
		if body == "" {
			body = it.Title
		}
		alerts = append(alerts, scraper.NormalizedAlert{
			Titulo:           it.Title,
			Contenido:        body,
			Fuente:           e.cfg.DisplayName,
			URLOrigen:        it.Link,
			FechaPublicacion: ParseDate(it.Date, now),
			Region:           e.cfg.Region,
			Entidad:          e.cfg.Entidad,
			Tipo:             e.cfg.Tipo,
		})
	}
	return alerts
}

func scope(block *goquery.Selection, sel string) *goquery.Selection {
	if sel == "&" {
		return block
	}
	return block.Find(sel)
}

func textCascade(block *goquery.Selection, cascade Cascade) string {
	for _, sel := range cascade {
		if text := cleanText(scope(block, sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// dateCascade prefers a machine-readable datetime attribute when present.
func dateCascade(block *goquery.Selection, cascade Cascade) string {
	for _, sel := range cascade {
		node := scope(block, sel).First()
		if attr, ok := node.Attr("datetime"); ok && LooksLikeDate(attr) {
			return attr
		}
		if text := cleanText(node.Text()); text != "" && LooksLikeDate(text) {
			return text
		}
	}
	return ""
}

func linkCascade(block *goquery.Selection, cascade Cascade) string {
	for _, sel := range cascade {
		node := scope(block, sel)
		links := node.Filter("a[href]")
		if links.Length() == 0 {
			links = node.Find("a[href]")
		}
		if href, ok := links.First().Attr("href"); ok {
			if href = strings.TrimSpace(href); href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
				return href
			}
		}
	}
	return ""
}

// resolveLink makes href absolute against base. Unparseable input is returned as is.
func resolveLink(base, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() || base == "" {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package seace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/browser"
	"github.com/JakeFAU/govwatch/internal/extract"
	"github.com/JakeFAU/govwatch/internal/heuristic"
	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/retry"
	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/sessionlog"
)

// State is a step of the authenticated flow.
type State string

// Flow states. Failed is reachable from any other state.
const (
	StateLoggedOut            State = "logged_out"
	StateCredentialsSubmitted State = "credentials_submitted"
	StateTermsPending         State = "terms_pending"
	StateTermsAccepted        State = "terms_accepted"
	StateNavigatingToSearch   State = "navigating_to_search"
	StateSearchFormReady      State = "search_form_ready"
	StateResultsListed        State = "results_listed"
	StateDetailOpen           State = "detail_open"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// Automation steps reported in AutomationError.Step and metrics.
const (
	StepLaunch   = "launch"
	StepLogin    = "login"
	StepTerms    = "terms"
	StepNavigate = "navigate"
	StepSearch   = "search"
	StepResults  = "results"
	StepBack     = "back"
)

// Config holds the driver's URLs and timing.
type Config struct {
	LoginURL       string
	RetryAttempts  int
	RetryDelay     time.Duration
	// DetailWait bounds each wait for the detail view's ready marker.
	DetailWait     time.Duration
	SnapshotPrefix string
}

const defaultDetailWait = 3 * time.Second

// Driver runs the login, terms, search and detail flow on one browser.
type Driver struct {
	launcher browser.Launcher
	cfg      Config
	h        Heuristics
	sel      Selectors
	blobs    scraper.BlobStore
	clock    scraper.Clock
	logger   *zap.Logger
}

// Option customizes a Driver.
type Option func(*Driver)

// WithHeuristics replaces the default tuning.
func WithHeuristics(h Heuristics) Option { return func(d *Driver) { d.h = h } }

// WithSelectors replaces the default widget selectors.
func WithSelectors(s Selectors) Option { return func(d *Driver) { d.sel = s } }

// WithBlobStore enables HTML snapshots on automation failures.
func WithBlobStore(b scraper.BlobStore) Option { return func(d *Driver) { d.blobs = b } }

// WithClock sets the time source used for the default target year.
func WithClock(c scraper.Clock) Option { return func(d *Driver) { d.clock = c } }

// WithLogger sets the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriver builds a driver with the default heuristics and selectors.
func NewDriver(launcher browser.Launcher, cfg Config, opts ...Option) *Driver {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.DetailWait <= 0 {
		cfg.DetailWait = defaultDetailWait
	}
	d := &Driver{
		launcher: launcher,
		cfg:      cfg,
		h:        DefaultHeuristics(),
		sel:      DefaultSelectors(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = limaClock{}
	}
	return d
}

type limaClock struct{}

func (limaClock) Now() time.Time { return time.Now().In(extract.Lima) }

// Run logs in with auth and returns every tender whose schedule could be
// read. The browser is closed on every path. Records gathered before a
// failure are returned alongside the error.
func (d *Driver) Run(ctx context.Context, auth scraper.AuthSettings, log *sessionlog.Logger) ([]scraper.TenderRecord, error) {
	if !auth.HasCredentials() {
		return nil, &scraper.ConfigurationError{Source: scraper.SourceSEACE, Reason: "missing credentials"}
	}
	if d.cfg.LoginURL == "" {
		return nil, &scraper.ConfigurationError{Source: scraper.SourceSEACE, Reason: "login url is not configured"}
	}

	r := &run{d: d, log: log, state: StateLoggedOut, stages: d.h.StageTablePipeline()}
	page, err := d.launcher.Launch(ctx)
	if err != nil {
		return nil, r.fail(ctx, StepLaunch, "browser could not start", err)
	}
	r.page = page
	defer func() {
		if err := page.Close(); err != nil {
			d.logger.Warn("close browser", zap.Error(err))
		}
		log.Debug("Browser closed")
	}()
	log.Info("Browser launched")

	if err := r.login(ctx, auth); err != nil {
		return nil, err
	}
	if err := r.acceptTerms(ctx); err != nil {
		return nil, err
	}
	if err := r.openSearch(ctx); err != nil {
		return nil, err
	}
	resultsSel, err := r.search(ctx, auth)
	if err != nil {
		return nil, err
	}
	records, err := r.collect(ctx, resultsSel)
	if err != nil {
		return records, err
	}
	r.to(StateDone, "tenders", len(records))
	return records, nil
}

type run struct {
	d      *Driver
	page   browser.Page
	log    *sessionlog.Logger
	state  State
	stages *heuristic.Pipeline[*goquery.Document, *goquery.Selection]
}

func (r *run) to(next State, keysAndValues ...any) {
	prev := r.state
	r.state = next
	kv := append([]any{"from", string(prev), "to", string(next)}, keysAndValues...)
	r.log.Info(fmt.Sprintf("State %s -> %s", prev, next), kv...)
}

// fail moves to Failed, snapshots the page and returns the AutomationError.
func (r *run) fail(ctx context.Context, step, reason string, err error) error {
	autoErr := &scraper.AutomationError{Step: step, Reason: reason, Err: err}
	prev := r.state
	r.state = StateFailed
	metrics.ObserveAutomationFailure(step)
	kv := []any{"from", string(prev), "to", string(StateFailed), "step", step, "reason", reason}
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	r.log.Error(fmt.Sprintf("Automation failed at %s: %s", step, reason), kv...)
	r.snapshot(ctx, step)
	return autoErr
}

func (r *run) snapshot(ctx context.Context, step string) {
	if r.d.blobs == nil || r.page == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	html, err := r.page.HTML(sctx)
	if err != nil {
		r.log.Warn("Failure snapshot unavailable", "error", err.Error())
		return
	}
	prefix := strings.TrimSuffix(r.d.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		prefix = "snapshots/seace"
	}
	session := r.log.SessionID()
	if session == "" {
		session = "adhoc"
	}
	path := fmt.Sprintf("%s/%s/%s-%d.html", prefix, session, step, r.d.clock.Now().UnixMilli())
	uri, err := r.d.blobs.PutObject(sctx, path, "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		r.log.Warn("Failure snapshot not stored", "error", err.Error())
		return
	}
	r.log.Info("Failure snapshot stored", "uri", uri)
}

func (r *run) wait(ctx context.Context, cond func(ctx context.Context) (bool, error)) error {
	return retry.Until(ctx, r.d.cfg.RetryAttempts, retry.Fixed(r.d.cfg.RetryDelay), cond)
}

func (r *run) exists(sel string) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return r.page.Exists(ctx, sel)
	}
}

var rejectedLogin = regexp.MustCompile(`(?i)inv[aá]lid`)

func (r *run) login(ctx context.Context, auth scraper.AuthSettings) error {
	sel := r.d.sel
	if err := r.page.Navigate(ctx, r.d.cfg.LoginURL); err != nil {
		return r.fail(ctx, StepLogin, "login page unreachable", err)
	}
	if err := r.wait(ctx, r.exists(sel.PasswordInput)); err != nil {
		return r.fail(ctx, StepLogin, "login form not found", err)
	}
	// The form has no stable ids; the first text and password inputs are the credentials.
	if err := r.page.SetValue(ctx, sel.UsernameInput, auth.Username); err != nil {
		return r.fail(ctx, StepLogin, "username field not fillable", err)
	}
	if err := r.page.SetValue(ctx, sel.PasswordInput, auth.Password); err != nil {
		return r.fail(ctx, StepLogin, "password field not fillable", err)
	}
	if err := r.page.Click(ctx, sel.LoginSubmit); err != nil {
		return r.fail(ctx, StepLogin, "login submit not clickable", err)
	}
	r.to(StateCredentialsSubmitted)

	var rejected bool
	err := r.wait(ctx, func(ctx context.Context) (bool, error) {
		html, err := r.page.HTML(ctx)
		if err != nil {
			return false, err
		}
		if rejectedLogin.MatchString(html) {
			rejected = true
			return true, nil
		}
		return r.page.Exists(ctx, sel.TermsCheckbox)
	})
	if rejected {
		return r.fail(ctx, StepLogin, "invalid credentials", nil)
	}
	if err != nil {
		return r.fail(ctx, StepTerms, "terms checkbox not found", err)
	}
	r.to(StateTermsPending)
	return nil
}

func (r *run) acceptTerms(ctx context.Context) error {
	sel := r.d.sel
	err := r.wait(ctx, func(ctx context.Context) (bool, error) {
		checked, err := r.page.IsChecked(ctx, sel.TermsCheckbox)
		if err != nil || checked {
			return checked, err
		}
		r.log.Debug("Ticking terms checkbox")
		if err := r.page.Click(ctx, sel.TermsCheckbox); err != nil {
			return false, err
		}
		return r.page.IsChecked(ctx, sel.TermsCheckbox)
	})
	if err != nil {
		return r.fail(ctx, StepTerms, "terms checkbox could not be checked", err)
	}

	var accept, strategy string
	err = r.wait(ctx, func(ctx context.Context) (bool, error) {
		for _, opt := range []struct{ name, sel string }{
			{"id", sel.TermsAccept},
			{"fallback", sel.TermsAcceptFallback},
		} {
			ok, err := r.page.Exists(ctx, opt.sel)
			if err != nil {
				return false, err
			}
			if ok {
				accept, strategy = opt.sel, opt.name
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return r.fail(ctx, StepTerms, "terms accept button not found", err)
	}
	if err := r.page.Click(ctx, accept); err != nil {
		return r.fail(ctx, StepTerms, "terms accept button not clickable", err)
	}
	r.to(StateTermsAccepted, "strategy", strategy)
	return nil
}

func (r *run) openSearch(ctx context.Context) error {
	sel := r.d.sel
	r.to(StateNavigatingToSearch)
	var strategy string
	err := r.wait(ctx, func(ctx context.Context) (bool, error) {
		clicked, err := r.page.ClickText(ctx, sel.MenuItems, sel.MenuText)
		if err == nil && clicked {
			strategy = "menu-text"
			return true, nil
		}
		ok, ferr := r.page.Exists(ctx, sel.MenuFallback)
		if ferr != nil || !ok {
			return false, errors.Join(err, ferr)
		}
		if err := r.page.Click(ctx, sel.MenuFallback); err != nil {
			return false, err
		}
		strategy = "menu-attribute"
		return true, nil
	})
	if err != nil {
		return r.fail(ctx, StepNavigate, "search menu entry not found", err)
	}
	r.log.Info("Search menu opened", "strategy", strategy)
	if err := r.wait(ctx, r.exists(sel.SearchForm)); err != nil {
		return r.fail(ctx, StepNavigate, "search form did not load", err)
	}
	r.to(StateSearchFormReady)
	return nil
}

var yearOption = regexp.MustCompile(`^(19|20)\d{2}$`)

func (r *run) search(ctx context.Context, auth scraper.AuthSettings) (string, error) {
	sel := r.d.sel
	year := auth.TargetYear
	if year <= 0 {
		year = r.d.clock.Now().In(extract.Lima).Year()
	}

	yearSel, strategy, err := r.findYearSelect(ctx)
	if err != nil {
		return "", r.fail(ctx, StepSearch, "year selector not found", err)
	}
	if err := r.page.SelectValue(ctx, yearSel, strconv.Itoa(year)); err != nil {
		return "", r.fail(ctx, StepSearch, "year could not be selected", err)
	}
	r.log.Info("Target year selected", "year", year, "strategy", strategy)

	if auth.EntityFilter != "" {
		ok, err := r.page.Exists(ctx, sel.EntityInput)
		switch {
		case err == nil && ok:
			if err := r.page.SetValue(ctx, sel.EntityInput, auth.EntityFilter); err != nil {
				r.log.Warn("Entity filter could not be applied", "error", err.Error())
			} else {
				r.log.Info("Entity filter applied", "entity", auth.EntityFilter)
			}
		default:
			r.log.Warn("Entity filter input not found, searching without it")
		}
	}

	clicked := false
	if ok, err := r.page.Exists(ctx, sel.SearchButton); err == nil && ok {
		clicked = r.page.Click(ctx, sel.SearchButton) == nil
	}
	if !clicked {
		clicked, err = r.page.ClickText(ctx, sel.SearchButtonTargets, sel.SearchButtonText)
		if err != nil || !clicked {
			return "", r.fail(ctx, StepSearch, "search button not found", err)
		}
		r.log.Debug("Search button matched by text")
	}

	var resultsSel string
	err = r.wait(ctx, func(ctx context.Context) (bool, error) {
		for _, opt := range []string{sel.ResultsTable, sel.ResultsTableFallback} {
			ok, err := r.page.Exists(ctx, opt)
			if err != nil {
				return false, err
			}
			if ok {
				resultsSel = opt
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return "", r.fail(ctx, StepSearch, "results table not found", err)
	}
	r.to(StateResultsListed, "table", resultsSel)
	return resultsSel, nil
}

// findYearSelect prefers the known id, then scans for a select whose options
// are mostly years.
func (r *run) findYearSelect(ctx context.Context) (string, string, error) {
	if ok, err := r.page.Exists(ctx, r.d.sel.YearSelect); err == nil && ok {
		return r.d.sel.YearSelect, "id", nil
	}
	doc, err := r.document(ctx)
	if err != nil {
		return "", "", err
	}
	var found string
	doc.Find("select").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		options := s.Find("option")
		years := options.FilterFunction(func(_ int, o *goquery.Selection) bool {
			v, ok := o.Attr("value")
			if !ok {
				v = o.Text()
			}
			return yearOption.MatchString(strings.TrimSpace(v))
		}).Length()
		if years == 0 || years*2 < options.Length() {
			return true
		}
		if id, ok := s.Attr("id"); ok && id != "" {
			found = fmt.Sprintf("select[id=%q]", id)
		} else if name, ok := s.Attr("name"); ok && name != "" {
			found = fmt.Sprintf("select[name=%q]", name)
		}
		return found == ""
	})
	if found == "" {
		return "", "", errors.New("no select with year options")
	}
	return found, "scan", nil
}

func (r *run) document(ctx context.Context) (*goquery.Document, error) {
	html, err := r.page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

type candidate struct {
	Candidate
	control string
	href    string
}

func (r *run) collect(ctx context.Context, resultsSel string) ([]scraper.TenderRecord, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return nil, r.fail(ctx, StepResults, "results page unreadable", err)
	}
	rows := doc.Find(resultsSel).First().Find("tbody").First().ChildrenFiltered("tr")

	var (
		candidates []candidate
		skipped    int
	)
	rows.Each(func(_ int, row *goquery.Selection) {
		c, err := r.d.h.ParseRow(rowCells(row))
		if err != nil {
			skipped++
			return
		}
		c.Row = row.Index() + 1
		cand := candidate{Candidate: c}
		for _, s := range r.d.sel.DetailControls {
			if ctl := row.Find(s).First(); ctl.Length() > 0 {
				cand.control = s
				cand.href, _ = ctl.Attr("href")
				break
			}
		}
		candidates = append(candidates, cand)
	})
	r.log.Info("Result rows parsed", "rows", rows.Length(), "candidates", len(candidates), "skipped", skipped)
	if limit := r.d.h.MaxCandidates; limit > 0 && len(candidates) > limit {
		r.log.Info("Candidate cap reached", "cap", limit, "dropped", len(candidates)-limit)
		candidates = candidates[:limit]
	}

	records := make([]scraper.TenderRecord, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return records, r.fail(ctx, StepResults, "run canceled", err)
		}
		rec, err := r.visit(ctx, resultsSel, c)
		if errors.Is(err, scraper.ErrExtractionMismatch) {
			r.log.Warn("Candidate skipped", "nomenclatura", c.Nomenclatura, "reason", err.Error())
			continue
		}
		if err != nil {
			return records, err
		}
		r.log.Success("Tender extracted", "nomenclatura", rec.Nomenclatura, "stages", len(rec.Stages))
		records = append(records, rec)
	}
	return records, nil
}

// visit opens one candidate's detail page, reads its schedule and returns to
// the result list. A detail view that never shows up or a failure to return
// is fatal; a detail page without a readable schedule only skips the
// candidate.
func (r *run) visit(ctx context.Context, resultsSel string, c candidate) (scraper.TenderRecord, error) {
	if c.control == "" {
		return scraper.TenderRecord{}, fmt.Errorf("no detail control in row %d: %w", c.Row, scraper.ErrExtractionMismatch)
	}
	control := fmt.Sprintf("%s tbody > tr:nth-child(%d) %s", resultsSel, c.Row, c.control)
	if err := r.page.Click(ctx, control); err != nil {
		return scraper.TenderRecord{}, fmt.Errorf("open detail: %v: %w", err, scraper.ErrExtractionMismatch)
	}
	r.to(StateDetailOpen, "nomenclatura", c.Nomenclatura)

	var (
		stages   []scraper.Stage
		rejected int
		strategy string
		link     string
		opened   bool
	)
	waitErr := r.wait(ctx, func(ctx context.Context) (bool, error) {
		if open, err := r.detailOpen(ctx, resultsSel); err != nil || !open {
			return false, err
		}
		opened = true
		doc, err := r.document(ctx)
		if err != nil {
			return false, err
		}
		res, ok := r.stages.Run(doc, nil)
		if !ok {
			return false, nil
		}
		strategy = res.Strategy
		stages, rejected = r.parseStages(res.Value)
		return true, nil
	})
	if !opened {
		return scraper.TenderRecord{}, r.fail(ctx, StepResults, "detail view not detected", waitErr)
	}
	if waitErr == nil {
		r.log.Info("Stage table parsed", "nomenclatura", c.Nomenclatura, "strategy", strategy, "stages", len(stages), "rejected", rejected)
		link = r.detailURL(ctx, c.href)
	}

	if err := r.back(ctx, resultsSel); err != nil {
		return scraper.TenderRecord{}, err
	}
	if waitErr != nil {
		return scraper.TenderRecord{}, fmt.Errorf("stage table not found: %v: %w", waitErr, scraper.ErrExtractionMismatch)
	}
	return scraper.TenderRecord{
		Nomenclatura:  c.Nomenclatura,
		Objeto:        c.Objeto,
		Entidad:       c.Entidad,
		TipoSeleccion: c.TipoSeleccion,
		KeyDates:      keyDates(c.Candidate, stages),
		URL:           link,
		Stages:        stages,
	}, nil
}

// detailOpen reports whether the detail view has replaced the result list.
// The ready marker is the positive signal. The result list disappearing only
// counts when it was found by its own id, since the grid fallback also
// matches tables on the detail page.
func (r *run) detailOpen(ctx context.Context, resultsSel string) (bool, error) {
	if ready := r.d.sel.DetailReady; ready != "" {
		if err := r.page.WaitVisible(ctx, ready, r.d.cfg.DetailWait); err == nil {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
	if resultsSel == r.d.sel.ResultsTableFallback {
		return false, nil
	}
	still, err := r.page.Exists(ctx, resultsSel)
	return err == nil && !still, err
}

// detailURL resolves the detail control's link against the current location.
// Controls that only post back (href "#" or javascript:) yield the location
// of the open detail page.
func (r *run) detailURL(ctx context.Context, href string) string {
	loc, err := r.page.URL(ctx)
	if err != nil {
		r.log.Debug("Detail location unavailable", "error", err.Error())
		loc = ""
	}
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return loc
	}
	ref, err := url.Parse(href)
	if err != nil {
		return loc
	}
	if base, err := url.Parse(loc); err == nil && loc != "" {
		return base.ResolveReference(ref).String()
	}
	if ref.IsAbs() {
		return ref.String()
	}
	return loc
}

func (r *run) parseStages(table *goquery.Selection) ([]scraper.Stage, int) {
	var (
		stages   []scraper.Stage
		rejected int
	)
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.ChildrenFiltered("td").Length() == 0 {
			return
		}
		stage, err := r.d.h.ParseStageRow(rowCells(row))
		if err != nil {
			rejected++
			r.log.Debug("Stage row rejected", "reason", err.Error())
			return
		}
		stages = append(stages, stage)
	})
	return stages, rejected
}

func (r *run) back(ctx context.Context, resultsSel string) error {
	sel := r.d.sel
	how := "history"
	if ok, err := r.page.Exists(ctx, sel.BackControl); err == nil && ok && r.page.Click(ctx, sel.BackControl) == nil {
		how = "control"
	} else if clicked, err := r.page.ClickText(ctx, "button, a", sel.BackControlText); err == nil && clicked {
		how = "control-text"
	} else if err := r.page.Back(ctx); err != nil {
		return r.fail(ctx, StepBack, "could not leave detail page", err)
	}
	err := r.wait(ctx, func(ctx context.Context) (bool, error) {
		if ready := sel.DetailReady; ready != "" {
			if still, err := r.page.Exists(ctx, ready); err != nil || still {
				return false, err
			}
		}
		return r.page.Exists(ctx, resultsSel)
	})
	if err != nil {
		return r.fail(ctx, StepBack, "results list did not reappear", err)
	}
	r.to(StateResultsListed, "via", how)
	return nil
}

// keyDates lifts the milestones consumers filter on out of the schedule.
func keyDates(c Candidate, stages []scraper.Stage) map[string]time.Time {
	out := make(map[string]time.Time)
	if t, ok := extract.ParseDateStrict(c.Published); ok {
		out["publicacion"] = t
	}
	for _, s := range stages {
		name := extract.Fold(s.Name)
		switch {
		case strings.Contains(name, "convocatoria") && s.StartDate != nil:
			out["convocatoria"] = *s.StartDate
		case strings.Contains(name, "presentacion de") && s.StartDate != nil:
			out["presentacion_ofertas"] = *s.StartDate
		case strings.Contains(name, "buena pro") && s.StartDate != nil:
			out["buena_pro"] = *s.StartDate
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const defaultNavTimeout = 45 * time.Second

// Config controls how the browser is started.
type Config struct {
	Env        Env
	Headless   bool
	UserAgent  string
	NavTimeout time.Duration
}

// ChromedpLauncher starts a fresh Chromium per Launch call.
type ChromedpLauncher struct {
	cfg    Config
	logger *zap.Logger
}

// NewChromedpLauncher builds a launcher. The executable is resolved on every
// launch so environment changes are picked up.
func NewChromedpLauncher(cfg Config, logger *zap.Logger) *ChromedpLauncher {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultNavTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpLauncher{cfg: cfg, logger: logger}
}

// Launch starts the browser and waits until it answers.
func (l *ChromedpLauncher) Launch(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}

	res, err := ResolveExecutable(l.cfg.Env)
	switch {
	case err == nil:
		opts = append(opts, chromedp.ExecPath(res.Path))
	case errors.Is(err, ErrExecutableNotFound) && !res.Serverless:
		l.logger.Warn("no chromium binary located, using chromedp default lookup")
	default:
		return nil, fmt.Errorf("resolve browser executable: %w", err)
	}
	if res.Serverless {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("single-process", true),
			chromedp.Flag("no-zygote", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	p := &ChromedpPage{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		timeout:     l.cfg.NavTimeout,
	}
	chromedp.ListenTarget(browserCtx, p.acceptDialogs)

	// The first Run allocates the browser and must use the long-lived context.
	if err := chromedp.Run(browserCtx); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	l.logger.Debug("browser launched", zap.String("executable", res.Path), zap.Bool("serverless", res.Serverless))
	return p, nil
}

// ChromedpPage implements Page on a chromedp browser context.
type ChromedpPage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
	closeOnce   sync.Once
}

// run executes actions on the tab bounded by the navigation timeout and the
// caller's context.
func (p *ChromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	return p.runWithTimeout(ctx, p.timeout, actions...)
}

func (p *ChromedpPage) runWithTimeout(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(tctx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// acceptDialogs dismisses alert/confirm popups that would otherwise block the tab.
func (p *ChromedpPage) acceptDialogs(ev any) {
	if _, ok := ev.(*cdppage.EventJavascriptDialogOpening); !ok {
		return
	}
	go func() {
		_ = chromedp.Run(p.ctx, cdppage.HandleJavaScriptDialog(true))
	}()
}

// Navigate implements Page.
func (p *ChromedpPage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// URL implements Page.
func (p *ChromedpPage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// HTML implements Page.
func (p *ChromedpPage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Exists implements Page.
func (p *ChromedpPage) Exists(ctx context.Context, sel string) (bool, error) {
	var ok bool
	expr := fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(sel))
	if err := p.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return false, fmt.Errorf("query %s: %w", sel, err)
	}
	return ok, nil
}

// Click implements Page.
func (p *ChromedpPage) Click(ctx context.Context, sel string) error {
	if err := p.run(ctx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// ClickText implements Page.
func (p *ChromedpPage) ClickText(ctx context.Context, sel, text string) (bool, error) {
	var clicked bool
	expr := fmt.Sprintf(`(() => {
		const want = %s.toLowerCase();
		for (const el of document.querySelectorAll(%s)) {
			if ((el.textContent || el.value || "").trim().toLowerCase().includes(want)) {
				el.click();
				return true;
			}
		}
		return false;
	})()`, jsString(text), jsString(sel))
	if err := p.run(ctx, chromedp.Evaluate(expr, &clicked)); err != nil {
		return false, fmt.Errorf("click text %q in %s: %w", text, sel, err)
	}
	return clicked, nil
}

// SetValue implements Page.
func (p *ChromedpPage) SetValue(ctx context.Context, sel, value string) error {
	if err := p.run(ctx, chromedp.SetValue(sel, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("set value %s: %w", sel, err)
	}
	return nil
}

// SelectValue implements Page.
func (p *ChromedpPage) SelectValue(ctx context.Context, sel, value string) error {
	var ok bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.value = %s;
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return true;
	})()`, jsString(sel), jsString(value))
	if err := p.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return fmt.Errorf("select %s: %w", sel, err)
	}
	if !ok {
		return fmt.Errorf("select %s: element not found", sel)
	}
	return nil
}

// IsChecked implements Page.
func (p *ChromedpPage) IsChecked(ctx context.Context, sel string) (bool, error) {
	var checked bool
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return !!(el && el.checked); })()`, jsString(sel))
	if err := p.run(ctx, chromedp.Evaluate(expr, &checked)); err != nil {
		return false, fmt.Errorf("checked %s: %w", sel, err)
	}
	return checked, nil
}

// WaitVisible implements Page.
func (p *ChromedpPage) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	if err := p.runWithTimeout(ctx, timeout, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %s: %w", sel, err)
	}
	return nil
}

// Back implements Page.
func (p *ChromedpPage) Back(ctx context.Context) error {
	if err := p.run(ctx, chromedp.NavigateBack(), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	return nil
}

// Close shuts the browser down and releases the allocator.
func (p *ChromedpPage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = chromedp.Cancel(p.ctx)
		p.cancel()
		p.allocCancel()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

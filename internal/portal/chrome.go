package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const (
	chromeActionTimeout = 10 * time.Second
	clickableRecheck    = 250 * time.Millisecond
)

// chromeSession drives a chromedp-managed chrome process. Element operations run against
// whichever tab `active` points to.
type chromeSession struct {
	cfg         SessionConfig
	userDataDir string

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu         sync.Mutex
	active     context.Context
	tabCancels []context.CancelFunc
	opened     []WindowID

	closeOnce sync.Once
	closeErr  error
}

// NewChromeSession launches a chrome process whose downloads land in cfg.DownloadDir
// without prompting. It satisfies SessionFactory.
func NewChromeSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if !filepath.IsAbs(cfg.DownloadDir) {
		return nil, fmt.Errorf("%w: download dir %q is not absolute", ErrSessionFailure, cfg.DownloadDir)
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth = DefaultWindowWidth
		cfg.WindowHeight = DefaultWindowHeight
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	userDataDir, err := os.MkdirTemp("", "billfetch-chrome-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create user data dir: %v", ErrSessionFailure, err)
	}
	err = writePreferences(userDataDir, cfg.DownloadDir)
	if err != nil {
		os.RemoveAll(userDataDir)
		return nil, fmt.Errorf("%w: write preferences: %v", ErrSessionFailure, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("headless", !cfg.ShowBrowser),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.UserDataDir(userDataDir),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		cfg:           cfg,
		userDataDir:   userDataDir,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		active:        browserCtx,
	}

	err = chromedp.Run(browserCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(cfg.DownloadDir).
			WithEventsEnabled(true),
		emulation.SetDeviceMetricsOverride(int64(cfg.WindowWidth), int64(cfg.WindowHeight), 1, false),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: start browser: %v", ErrSessionFailure, err)
	}

	if c := chromedp.FromContext(browserCtx); c != nil && c.Target != nil {
		s.opened = append(s.opened, WindowID(c.Target.TargetID))
	}
	return s, nil
}

// writePreferences seeds the profile so PDFs are downloaded instead of opened in the viewer.
func writePreferences(userDataDir, downloadDir string) error {
	prefs := map[string]any{
		"download": map[string]any{
			"default_directory":   downloadDir,
			"prompt_for_download": false,
			"directory_upgrade":   true,
		},
		"plugins": map[string]any{
			"always_open_pdf_externally": true,
		},
		"profile": map[string]any{
			"default_content_settings": map[string]any{
				"popups": 0,
			},
		},
	}
	serialized, err := json.Marshal(prefs)
	if err != nil {
		return err
	}

	profileDir := filepath.Join(userDataDir, "Default")
	err = os.MkdirAll(profileDir, 0700)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(profileDir, "Preferences"), serialized, 0600)
}

func (s *chromeSession) tab() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// run executes actions on the active tab, bounded by `timeout` and by ctx.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(s.tab(), timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}

func queryBy(loc Locator) chromedp.QueryOption {
	if loc.By == ByCSS {
		return chromedp.ByQuery
	}
	return chromedp.BySearch
}

func elementNotFound(loc Locator, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s (%s)", ErrElementNotFound, loc.Name, loc.Query)
	}
	return fmt.Errorf("%s: %w", loc.Name, err)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, chromeActionTimeout*3, chromedp.Navigate(url))
	if err != nil {
		return fmt.Errorf("%w: navigate to %s: %v", ErrSessionFailure, url, err)
	}
	return nil
}

func (s *chromeSession) WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.WaitReady(loc.Query, queryBy(loc)))
	if err != nil {
		return elementNotFound(loc, err)
	}
	return nil
}

func (s *chromeSession) Fill(ctx context.Context, loc Locator, text string) error {
	err := s.run(ctx, chromeActionTimeout,
		chromedp.Clear(loc.Query, queryBy(loc)),
		chromedp.SendKeys(loc.Query, text, queryBy(loc)),
	)
	if err != nil {
		return elementNotFound(loc, err)
	}
	return nil
}

func (s *chromeSession) evalOnElement(ctx context.Context, loc Locator, body string) error {
	var found bool
	script := fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) return false;
	%s;
	return true;
})()`, jsElement(loc), body)

	err := s.run(ctx, chromeActionTimeout, chromedp.Evaluate(script, &found))
	if err != nil {
		return elementNotFound(loc, err)
	}
	if !found {
		return fmt.Errorf("%w: %s (%s)", ErrElementNotFound, loc.Name, loc.Query)
	}
	return nil
}

func (s *chromeSession) ScrollIntoView(ctx context.Context, loc Locator) error {
	return s.evalOnElement(ctx, loc, `el.scrollIntoView({block: 'center'})`)
}

// Click refuses to click an element another element is covering, a mouse event at its
// center would land on whatever is on top without any error.
func (s *chromeSession) Click(ctx context.Context, loc Locator) error {
	var onTop bool
	err := s.run(ctx, chromeActionTimeout, chromedp.Evaluate(onTopScript(loc), &onTop))
	if err != nil {
		return elementNotFound(loc, err)
	}
	if !onTop {
		return fmt.Errorf("%w: %s is covered by another element", ErrElementNotFound, loc.Name)
	}

	err = s.run(ctx, chromeActionTimeout, chromedp.Click(loc.Query, queryBy(loc), chromedp.NodeVisible))
	if err != nil {
		return elementNotFound(loc, err)
	}
	return nil
}

func (s *chromeSession) DispatchClick(ctx context.Context, loc Locator) error {
	return s.evalOnElement(ctx, loc, `el.click()`)
}

func (s *chromeSession) Windows(ctx context.Context) ([]WindowID, error) {
	listCtx, cancel := context.WithTimeout(s.browserCtx, chromeActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	infos, err := chromedp.Targets(listCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: list targets: %v", ErrSessionFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	open := map[WindowID]bool{}
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		id := WindowID(info.TargetID)
		open[id] = true
		if !containsWindow(s.opened, id) {
			s.opened = append(s.opened, id)
		}
	}

	windows := []WindowID{}
	for _, id := range s.opened {
		if open[id] {
			windows = append(windows, id)
		}
	}
	return windows, nil
}

func (s *chromeSession) SwitchWindow(ctx context.Context, id WindowID) error {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(target.ID(id)))

	// the first Run attaches the tab and its ctx keeps the tab's event loop alive, so it must
	// be tabCtx itself and not a child that is cancelled when this call returns
	attached := make(chan error, 1)
	go func() {
		attached <- chromedp.Run(tabCtx)
	}()

	timer := time.NewTimer(chromeActionTimeout)
	defer timer.Stop()
	select {
	case err := <-attached:
		if err != nil {
			cancel()
			return fmt.Errorf("%w: attach to window %s: %v", ErrSessionFailure, id, err)
		}
	case <-timer.C:
		cancel()
		return fmt.Errorf("%w: attach to window %s: timed out after %s", ErrSessionFailure, id, chromeActionTimeout)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	s.mu.Lock()
	s.active = tabCtx
	s.tabCancels = append(s.tabCancels, cancel)
	s.mu.Unlock()
	return nil
}

func (s *chromeSession) WaitAnyClickable(ctx context.Context, locs []Locator, timeout time.Duration) (Locator, error) {
	if len(locs) == 0 {
		return Locator{}, fmt.Errorf("no locators given")
	}

	script := clickableScript(locs)
	deadline := time.Now().Add(timeout)
	for {
		var idx int
		err := s.run(ctx, chromeActionTimeout, chromedp.Evaluate(script, &idx))
		if err != nil && ctx.Err() != nil {
			return Locator{}, ctx.Err()
		}
		// evaluation errors while the page is still navigating are retried
		if err == nil && idx >= 0 && idx < len(locs) {
			return locs[idx], nil
		}

		if time.Now().After(deadline) {
			names := make([]string, len(locs))
			for i, l := range locs {
				names[i] = l.Name
			}
			return Locator{}, fmt.Errorf("%w: none of [%s] became clickable within %s", ErrElementNotFound, strings.Join(names, ", "), timeout)
		}

		select {
		case <-time.After(clickableRecheck):
		case <-ctx.Done():
			return Locator{}, ctx.Err()
		}
	}
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancels := s.tabCancels
		s.tabCancels = nil
		s.mu.Unlock()

		for i := len(cancels) - 1; i >= 0; i-- {
			cancels[i]()
		}
		s.browserCancel()
		s.allocCancel()
		s.closeErr = os.RemoveAll(s.userDataDir)
	})
	return s.closeErr
}

func containsWindow(list []WindowID, id WindowID) bool {
	for _, w := range list {
		if w == id {
			return true
		}
	}
	return false
}

func jsString(s string) string {
	var out strings.Builder
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	enc.Encode(s)
	return strings.TrimSuffix(out.String(), "\n")
}

// jsElement is a javascript expression evaluating to the first element matched by loc, or null.
func jsElement(loc Locator) string {
	if loc.By == ByCSS {
		return fmt.Sprintf("document.querySelector(%s)", jsString(loc.Query))
	}
	return fmt.Sprintf(
		"document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue",
		jsString(loc.Query),
	)
}

// clickableScript evaluates to the index of the first locator whose element is visible and
// enabled, or -1.
func clickableScript(locs []Locator) string {
	var lookups strings.Builder
	for _, loc := range locs {
		fmt.Fprintf(&lookups, "\t\t() => %s,\n", jsElement(loc))
	}
	return fmt.Sprintf(`(() => {
	const lookups = [
%s	];
	for (let i = 0; i < lookups.length; i++) {
		const el = lookups[i]();
		if (!el || el.disabled) continue;
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) continue;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') continue;
		return i;
	}
	return -1;
})()`, lookups.String())
}

// onTopScript evaluates to true if the element under the center of loc's element is that
// element or one of its descendants.
func onTopScript(loc Locator) string {
	return fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) return false;
	const rect = el.getBoundingClientRect();
	const top = document.elementFromPoint(rect.left + rect.width / 2, rect.top + rect.height / 2);
	return top !== null && (top === el || el.contains(top));
})()`, jsElement(loc))
}

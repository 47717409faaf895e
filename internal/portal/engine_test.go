package portal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"billfetch/internal/billcache"
	"billfetch/internal/billing"
	"billfetch/internal/components/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const testIdentifier = "N3355009057"

var testPeriod = billing.Period{Year: 2026, Month: time.October}

// fakePortal is a scripted Session that behaves like the portal for a single identifier.
type fakePortal struct {
	mu sync.Mutex

	downloadDir string
	active      WindowID
	windows     []WindowID
	calls       []string
	closes      int

	// missing lists locator names that never show up.
	missing map[string]bool
	// nativeClickErr makes Click fail for the named locators.
	nativeClickErr map[string]error
	// covered lists locators another element sits on top of, Click refuses them like
	// chromeSession does.
	covered map[string]bool
	// submitOpensWindow makes the submit click open the bill page in a new window.
	submitOpensWindow bool
	noLatestBill      bool
	// download is the file name written when the latest bill control is clicked, no file
	// is written when it is empty.
	download string

	navigatePanic bool
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		active:         "main",
		windows:        []WindowID{"main"},
		missing:        map[string]bool{},
		nativeClickErr: map[string]error{},
		covered:        map[string]bool{},
		download:       "consumer_bill_8812.pdf",
	}
}

func (f *fakePortal) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakePortal) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePortal) Navigate(ctx context.Context, url string) error {
	if f.navigatePanic {
		panic("renderer crashed")
	}
	f.record("navigate %s", url)
	return nil
}

func (f *fakePortal) WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) error {
	f.record("wait %s", loc.Name)
	if f.missing[loc.Name] {
		return fmt.Errorf("%w: %s", ErrElementNotFound, loc.Name)
	}
	return nil
}

func (f *fakePortal) Fill(ctx context.Context, loc Locator, text string) error {
	f.record("fill %s %s", loc.Name, text)
	return nil
}

func (f *fakePortal) ScrollIntoView(ctx context.Context, loc Locator) error {
	f.record("scroll %s", loc.Name)
	return nil
}

func (f *fakePortal) activate(loc Locator) error {
	if loc == SubmitButton {
		if f.submitOpensWindow {
			f.mu.Lock()
			f.windows = append(f.windows, "bill-view")
			f.mu.Unlock()
		}
		return nil
	}
	for _, control := range LatestBillControls {
		if loc != control || f.download == "" {
			continue
		}
		return os.WriteFile(filepath.Join(f.downloadDir, f.download), []byte("%PDF-1.4 bill"), 0644)
	}
	return nil
}

func (f *fakePortal) Click(ctx context.Context, loc Locator) error {
	f.record("click %s", loc.Name)
	if err := f.nativeClickErr[loc.Name]; err != nil {
		return err
	}
	if f.covered[loc.Name] {
		return fmt.Errorf("%w: %s is covered by another element", ErrElementNotFound, loc.Name)
	}
	return f.activate(loc)
}

func (f *fakePortal) DispatchClick(ctx context.Context, loc Locator) error {
	f.record("dispatch %s", loc.Name)
	return f.activate(loc)
}

func (f *fakePortal) Windows(ctx context.Context) ([]WindowID, error) {
	f.record("windows")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WindowID(nil), f.windows...), nil
}

func (f *fakePortal) SwitchWindow(ctx context.Context, id WindowID) error {
	f.record("switch %s", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = id
	return nil
}

func (f *fakePortal) WaitAnyClickable(ctx context.Context, locs []Locator, timeout time.Duration) (Locator, error) {
	f.record("any clickable")
	f.mu.Lock()
	onBillPage := !f.submitOpensWindow || f.active == "bill-view"
	f.mu.Unlock()
	if f.noLatestBill || !onBillPage {
		return Locator{}, fmt.Errorf("%w: latest bill control", ErrElementNotFound)
	}
	// the portal renders the control as an input
	return locs[1], nil
}

func (f *fakePortal) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

type fakeProber struct {
	err error
}

func (p fakeProber) Probe(ctx context.Context, portalURL string) error {
	return p.err
}

type engineFixture struct {
	engine   Engine
	portal   *fakePortal
	cache    billcache.Cache
	workDir  string
	tel      *telemetry.Recorder
	launches int
	sessions []SessionConfig
}

func newEngineFixture(t *testing.T, portal *fakePortal, prober Prober, factoryErr error) *engineFixture {
	tel := &telemetry.Recorder{}
	cache, err := billcache.New(filepath.Join(t.TempDir(), "bills"), tel)
	if err != nil {
		t.Fatal(err)
	}

	f := &engineFixture{
		portal:  portal,
		cache:   cache,
		workDir: t.TempDir(),
		tel:     tel,
	}
	factory := func(ctx context.Context, cfg SessionConfig) (Session, error) {
		f.launches++
		f.sessions = append(f.sessions, cfg)
		if factoryErr != nil {
			return nil, factoryErr
		}
		portal.downloadDir = cfg.DownloadDir
		return portal, nil
	}

	cfg := DefaultEngineConfig(f.workDir)
	cfg.ElementTimeout = 50 * time.Millisecond
	cfg.ScrollSettle = 0
	cfg.WindowSettle = 0

	f.engine = NewEngine(
		cfg,
		factory,
		PollDetector{Interval: 5 * time.Millisecond, Ceiling: 60 * time.Millisecond},
		prober,
		cache,
		tel,
	)
	return f
}

func (f *engineFixture) retrieve() (string, error) {
	return f.engine.Retrieve(context.Background(), billing.Request{
		Identifier: testIdentifier,
		Period:     testPeriod,
	})
}

func (f *engineFixture) requireNoCacheEntry(t *testing.T) {
	_, ok, err := f.cache.Lookup(context.Background(), testIdentifier, testPeriod)
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, ok, "failed attempts must not produce a cache entry")
}

func (f *engineFixture) requireWorkDirEmpty(t *testing.T) {
	entries, err := os.ReadDir(f.workDir)
	if err != nil {
		t.Fatal(err)
	}
	require.Empty(t, entries, "per-attempt download directory should be removed")
}

func requireRetrievalError(t *testing.T, err error, kind Kind, state State) {
	t.Helper()

	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, kind, rerr.Kind, err.Error())
	require.Equal(t, state, rerr.State, err.Error())
	require.ErrorIs(t, err, kind.sentinel())
}

func TestRetrieveCommitsLatestBill(t *testing.T) {
	portal := newFakePortal()
	f := newEngineFixture(t, portal, nil, nil)

	path, err := f.retrieve()
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, f.cache.Path(testIdentifier, testPeriod), path)
	require.Equal(t, "Bill_N3355009057_Oct_2026.pdf", filepath.Base(path))

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "%PDF-1.4 bill", string(contents))

	expected := []string{
		"navigate " + DefaultPortalURL,
		"wait ivrs input",
		"fill ivrs input " + testIdentifier,
		"wait view & pay submit",
		"scroll view & pay submit",
		"windows",
		"click view & pay submit",
		"windows",
		"any clickable",
		"scroll latest bill input",
		"click latest bill input",
	}
	if diff := cmp.Diff(expected, portal.Calls()); diff != "" {
		t.Fatalf("unexpected session calls (-want +got):\n%s", diff)
	}

	require.Equal(t, 1, portal.closes)
	f.requireWorkDirEmpty(t)

	require.Len(t, f.sessions, 1)
	require.True(t, filepath.IsAbs(f.sessions[0].DownloadDir))
	require.Equal(t, f.workDir, filepath.Dir(f.sessions[0].DownloadDir))
}

func TestRetrieveSwitchesToNewWindow(t *testing.T) {
	portal := newFakePortal()
	portal.submitOpensWindow = true
	f := newEngineFixture(t, portal, nil, nil)

	_, err := f.retrieve()
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, WindowID("bill-view"), portal.active)
	require.Contains(t, portal.Calls(), "switch bill-view")
}

func TestRetrieveStaysInWindowWhenNoneOpened(t *testing.T) {
	portal := newFakePortal()
	f := newEngineFixture(t, portal, nil, nil)

	_, err := f.retrieve()
	if err != nil {
		t.Fatal(err)
	}
	for _, call := range portal.Calls() {
		require.NotContains(t, call, "switch")
	}
}

func TestRetrieveDispatchesSubmitWhenNativeClickFails(t *testing.T) {
	portal := newFakePortal()
	portal.nativeClickErr[SubmitButton.Name] = errors.New("element click intercepted")
	f := newEngineFixture(t, portal, nil, nil)

	_, err := f.retrieve()
	if err != nil {
		t.Fatal(err)
	}

	calls := portal.Calls()
	require.Contains(t, calls, "click view & pay submit")
	require.Contains(t, calls, "dispatch view & pay submit")
}

func TestRetrieveDispatchesCoveredSubmit(t *testing.T) {
	portal := newFakePortal()
	portal.covered[SubmitButton.Name] = true
	portal.submitOpensWindow = true
	f := newEngineFixture(t, portal, nil, nil)

	path, err := f.retrieve()
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, f.cache.Path(testIdentifier, testPeriod), path)

	calls := portal.Calls()
	require.Contains(t, calls, "dispatch view & pay submit")
	require.Contains(t, calls, "switch bill-view")
}

func TestRetrieveCoveredLatestBillControl(t *testing.T) {
	portal := newFakePortal()
	portal.covered["latest bill input"] = true
	f := newEngineFixture(t, portal, nil, nil)

	_, err := f.retrieve()
	requireRetrievalError(t, err, KindElementNotFound, StateDownloading)
	require.NotContains(t, portal.Calls(), "dispatch latest bill input")
	require.Equal(t, 1, portal.closes)
	f.requireNoCacheEntry(t)
	f.requireWorkDirEmpty(t)
}

func TestRetrieveMissingIdentifierInput(t *testing.T) {
	portal := newFakePortal()
	portal.missing[IdentifierInput.Name] = true
	f := newEngineFixture(t, portal, nil, nil)

	path, err := f.retrieve()
	require.Empty(t, path)
	requireRetrievalError(t, err, KindElementNotFound, StateFormSubmission)
	require.Equal(t, 1, portal.closes)
	f.requireNoCacheEntry(t)
	f.requireWorkDirEmpty(t)
}

func TestRetrieveNoLatestBillControl(t *testing.T) {
	portal := newFakePortal()
	portal.noLatestBill = true
	f := newEngineFixture(t, portal, nil, nil)

	path, err := f.retrieve()
	require.Empty(t, path)
	requireRetrievalError(t, err, KindElementNotFound, StateAwaitingLatestBillControl)
	require.Equal(t, 1, portal.closes)
	f.requireNoCacheEntry(t)
}

func TestRetrieveDownloadTimeout(t *testing.T) {
	portal := newFakePortal()
	portal.download = ""
	f := newEngineFixture(t, portal, nil, nil)

	path, err := f.retrieve()
	require.Empty(t, path)
	requireRetrievalError(t, err, KindDownloadTimeout, StateDownloading)
	require.Equal(t, 1, portal.closes)
	f.requireNoCacheEntry(t)
	f.requireWorkDirEmpty(t)
}

func TestRetrieveIgnoresUnfinishedDownload(t *testing.T) {
	portal := newFakePortal()
	portal.download = "consumer_bill_8812.pdf.crdownload"
	f := newEngineFixture(t, portal, nil, nil)

	_, err := f.retrieve()
	requireRetrievalError(t, err, KindDownloadTimeout, StateDownloading)
	f.requireNoCacheEntry(t)
}

func TestRetrieveSessionLaunchFailure(t *testing.T) {
	portal := newFakePortal()
	f := newEngineFixture(t, portal, nil, errors.New("chrome not found in $PATH"))

	_, err := f.retrieve()
	requireRetrievalError(t, err, KindSession, StateLaunching)
	require.Equal(t, 0, portal.closes)
	f.requireWorkDirEmpty(t)
}

func TestRetrieveUnreachablePortal(t *testing.T) {
	portal := newFakePortal()
	f := newEngineFixture(t, portal, fakeProber{
		err: fmt.Errorf("%w: portal answered 503", ErrSessionFailure),
	}, nil)

	_, err := f.retrieve()
	requireRetrievalError(t, err, KindSession, StateLaunching)
	require.Equal(t, 0, f.launches, "no browser should be launched for an unreachable portal")
}

func TestRetrievePanicIsUnknownFailure(t *testing.T) {
	portal := newFakePortal()
	portal.navigatePanic = true
	f := newEngineFixture(t, portal, nil, nil)

	_, err := f.retrieve()
	requireRetrievalError(t, err, KindUnknown, StateFormSubmission)
	require.Equal(t, 1, portal.closes)
	f.requireWorkDirEmpty(t)
}

func TestRetrieveCancelled(t *testing.T) {
	portal := newFakePortal()
	portal.download = ""
	f := newEngineFixture(t, portal, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Retrieve(ctx, billing.Request{Identifier: testIdentifier, Period: testPeriod})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, portal.closes)
}

func TestRetrieveReportsFailure(t *testing.T) {
	portal := newFakePortal()
	portal.noLatestBill = true
	f := newEngineFixture(t, portal, nil, nil)

	_, err := f.retrieve()
	require.Error(t, err)

	warnings := f.tel.Reports("warning")
	require.NotEmpty(t, warnings, f.tel.String())
	require.Equal(t, "portal: "+report_retrieve, warnings[len(warnings)-1].ID)
}

func TestNewestWindow(t *testing.T) {
	cases := []struct {
		name     string
		before   []WindowID
		after    []WindowID
		expected WindowID
	}{
		{name: "nothing opened", before: []WindowID{"a"}, after: []WindowID{"a"}, expected: ""},
		{name: "one opened", before: []WindowID{"a"}, after: []WindowID{"a", "b"}, expected: "b"},
		{name: "several opened", before: []WindowID{"a"}, after: []WindowID{"a", "b", "c"}, expected: "c"},
		{name: "original closed", before: []WindowID{"a"}, after: []WindowID{"b"}, expected: "b"},
		{name: "one closed", before: []WindowID{"a", "b"}, after: []WindowID{"a"}, expected: ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.expected, newestWindow(c.before, c.after))
		})
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "awaiting_latest_bill_control", StateAwaitingLatestBillControl.String())
	require.Equal(t, "unknown", State(99).String())
}

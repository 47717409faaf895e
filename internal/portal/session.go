package portal

import (
	"context"
	"time"
)

// By is the query language of a Locator.
type By int

const (
	ByXPath By = iota
	ByCSS
)

func (b By) String() string {
	switch b {
	case ByXPath:
		return "xpath"
	case ByCSS:
		return "css"
	default:
		return "unknown"
	}
}

// Locator finds a single element on the page.
type Locator struct {
	Name  string
	Query string
	By    By
}

func (l Locator) String() string {
	return l.Name
}

// WindowID identifies a top level browsing context (a tab or a window).
type WindowID string

// Session is one browser instance owned by exactly one in-flight retrieval.
// Every element operation acts on the currently active window.
//
// note: fault injection point
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitPresent blocks until the element is attached to the DOM or returns an error
	// wrapping ErrElementNotFound once `timeout` elapses.
	WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) error
	// Fill clears the element's value and types `text` into it.
	Fill(ctx context.Context, loc Locator, text string) error
	ScrollIntoView(ctx context.Context, loc Locator) error
	// Click performs a native (mouse) click on the element.
	Click(ctx context.Context, loc Locator) error
	// DispatchClick invokes the element's click() directly, bypassing anything covering it.
	DispatchClick(ctx context.Context, loc Locator) error
	// Windows lists the open windows in the order they were opened.
	Windows(ctx context.Context) ([]WindowID, error)
	SwitchWindow(ctx context.Context, id WindowID) error
	// WaitAnyClickable returns the first of `locs` to become clickable, or an error
	// wrapping ErrElementNotFound once `timeout` elapses.
	WaitAnyClickable(ctx context.Context, locs []Locator, timeout time.Duration) (Locator, error)
	// Close releases the browser, it is safe to call more than once.
	Close() error
}

// SessionConfig is passed to every session constructor, nothing about a session is process-wide.
type SessionConfig struct {
	// DownloadDir must be an absolute path dedicated to this session.
	DownloadDir  string
	ExecPath     string
	UserAgent    string
	ShowBrowser  bool
	WindowWidth  int
	WindowHeight int
}

// SessionFactory allocates a new browser session.
type SessionFactory func(ctx context.Context, cfg SessionConfig) (Session, error)

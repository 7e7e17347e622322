package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/pagedock/pkg/driver"
	"github.com/entrhq/pagedock/pkg/logging"
	"github.com/entrhq/pagedock/pkg/security/urlguard"
	"github.com/entrhq/pagedock/pkg/session"
)

// abandonSlack is added on top of an action's own budget before the
// dispatcher stops waiting on the driver call. The engine's timeout fires
// first under normal operation and produces the more useful error; the
// dispatcher deadline only catches a wedged engine.
const abandonSlack = time.Second

// Config carries the dispatcher's environment-dependent settings.
type Config struct {
	// Launch is the profile applied to every new session's browser.
	Launch driver.Profile

	// AcquireTimeout bounds how long an action waits for a busy session.
	AcquireTimeout time.Duration

	// CloseGrace bounds how long a close waits for an in-flight action
	// before forcing the browser down.
	CloseGrace time.Duration

	// ScreenshotDir, when set, receives a <session-id>.png copy of every
	// screenshot. The file is removed when the session closes.
	ScreenshotDir string

	// Environment names the detected runtime for health reports.
	Environment string
}

// Dispatcher executes actions against registered sessions. Argument
// validation happens before the session is touched, and every driver call
// runs under an exclusive hold of its session.
type Dispatcher struct {
	registry *session.Registry
	super    *session.Supervisor
	guard    *urlguard.Guard
	cfg      Config
	log      *logging.Logger
}

// NewDispatcher wires a dispatcher to the registry, supervisor and URL
// policy guard.
func NewDispatcher(registry *session.Registry, super *session.Supervisor, guard *urlguard.Guard, cfg Config) *Dispatcher {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = session.DefaultAcquireTimeout
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = session.DefaultShutdownGrace
	}
	return &Dispatcher{
		registry: registry,
		super:    super,
		guard:    guard,
		cfg:      cfg,
		log:      logging.NewLogger("dispatcher"),
	}
}

// run executes fn while the caller holds the session, waiting up to the
// budget plus slack for it to finish. On timeout the dispatcher abandons
// the call and reports failure; the goroutine keeps the session held
// until the driver actually returns, so no other action can slip in
// behind a wedged one.
func (d *Dispatcher) run(ctx context.Context, label string, budget time.Duration, release func(), fn func() error) error {
	done := make(chan error, 1)
	go func() {
		err := fn()
		release()
		done <- err
	}()

	timer := time.NewTimer(budget + abandonSlack)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return d.failure(label, err)
		}
		return nil
	case <-timer.C:
		d.log.Warnf("%s abandoned after %s with the driver call still in flight", label, budget+abandonSlack)
		return session.NewError(session.KindActionFailed, "%s timed out", label)
	case <-ctx.Done():
		return session.WrapError(session.KindActionFailed, ctx.Err(), "%s canceled", label)
	}
}

// failure classifies a driver error, keeping kinds that are already set.
func (d *Dispatcher) failure(label string, err error) error {
	if session.KindOf(err) != "" {
		return err
	}
	return session.WrapError(session.KindActionFailed, err, "%s failed", label)
}

// acquire resolves and exclusively holds the session for one action.
func (d *Dispatcher) acquire(id string) (*session.Session, func(), error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil, session.NewError(session.KindInvalidArgument, "session_id is required")
	}
	return d.registry.Acquire(id, d.cfg.AcquireTimeout)
}

// Visit launches a new session and navigates it to the requested URL. A
// failed navigation tears the fresh session back down so callers never
// receive an id that went nowhere.
func (d *Dispatcher) Visit(ctx context.Context, req VisitRequest) (*VisitResult, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return nil, session.NewError(session.KindInvalidArgument, "url is required")
	}
	if err := d.guard.Check(url); err != nil {
		return nil, session.WrapError(session.KindInvalidArgument, err, "url rejected")
	}

	if err := d.super.EnsureReady(); err != nil {
		return nil, err
	}

	id, err := d.registry.Create(d.cfg.Launch)
	if err != nil {
		return nil, err
	}

	s, release, err := d.registry.Acquire(id, d.cfg.AcquireTimeout)
	if err != nil {
		return nil, err
	}

	timeout := msTimeout(req.Timeout, DefaultVisitTimeout)
	waitUntil := "domcontentloaded"
	if req.WaitForLoad == nil || *req.WaitForLoad {
		waitUntil = "networkidle"
	}

	result := &VisitResult{SessionID: id}
	err = d.run(ctx, fmt.Sprintf("visit %s", url), timeout, release, func() error {
		h := s.Handle()
		if err := h.Navigate(url, driver.NavigateOptions{
			WaitUntil: waitUntil,
			Timeout:   float64(timeout / time.Millisecond),
		}); err != nil {
			return err
		}
		s.SetOriginURL(h.URL())
		result.URL = h.URL()
		if title, err := h.Title(); err == nil {
			result.Title = title
		}
		return nil
	})
	if err != nil {
		d.discard(id)
		return nil, err
	}

	d.log.Infof("session %s visited %s", id, url)
	return result, nil
}

// discard closes a session in the background after its opening navigation
// failed.
func (d *Dispatcher) discard(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CloseGrace)
		defer cancel()
		if err := d.registry.Close(ctx, id); err != nil && !session.IsKind(err, session.KindNotFound) {
			d.log.Warnf("session %s: cleanup after failed visit: %v", id, err)
		}
	}()
}

// Click clicks the first element matching the selector, by default
// waiting for it to become visible first.
func (d *Dispatcher) Click(ctx context.Context, req ClickRequest) (*Ack, error) {
	if strings.TrimSpace(req.Selector) == "" {
		return nil, session.NewError(session.KindInvalidArgument, "selector is required")
	}

	s, release, err := d.acquire(req.SessionID)
	if err != nil {
		return nil, err
	}

	timeout := msTimeout(req.Timeout, DefaultClickTimeout)
	ms := float64(timeout / time.Millisecond)
	waitFirst := req.WaitForElement == nil || *req.WaitForElement

	budget := timeout
	if waitFirst {
		budget += timeout
	}
	err = d.run(ctx, fmt.Sprintf("click %s", req.Selector), budget, release, func() error {
		h := s.Handle()
		if waitFirst {
			if err := h.WaitForSelector(req.Selector, driver.WaitOptions{State: "visible", Timeout: ms}); err != nil {
				return err
			}
		}
		return h.Click(req.Selector, driver.ClickOptions{Timeout: ms})
	})
	if err != nil {
		return nil, err
	}
	return d.ack(s.ID(), "clicked %s", req.Selector), nil
}

// Type enters text into the first element matching the selector. With
// ClearFirst the element's value is replaced; otherwise the text is typed
// keystroke by keystroke after the current value.
func (d *Dispatcher) Type(ctx context.Context, req TypeRequest) (*Ack, error) {
	if strings.TrimSpace(req.Selector) == "" {
		return nil, session.NewError(session.KindInvalidArgument, "selector is required")
	}

	s, release, err := d.acquire(req.SessionID)
	if err != nil {
		return nil, err
	}

	timeout := msTimeout(0, DefaultTypeTimeout)
	ms := float64(timeout / time.Millisecond)
	waitFirst := req.WaitForElement == nil || *req.WaitForElement
	clearFirst := req.ClearFirst == nil || *req.ClearFirst

	budget := timeout
	if waitFirst {
		budget += timeout
	}
	err = d.run(ctx, fmt.Sprintf("type into %s", req.Selector), budget, release, func() error {
		h := s.Handle()
		if waitFirst {
			if err := h.WaitForSelector(req.Selector, driver.WaitOptions{State: "visible", Timeout: ms}); err != nil {
				return err
			}
		}
		opts := driver.FillOptions{Timeout: ms}
		if clearFirst {
			return h.Fill(req.Selector, req.Text, opts)
		}
		return h.Type(req.Selector, req.Text, opts)
	})
	if err != nil {
		return nil, err
	}
	return d.ack(s.ID(), "typed %d characters into %s", len(req.Text), req.Selector), nil
}

// scrollVectors maps a direction to unit deltas for window.scrollBy.
var scrollVectors = map[string][2]int{
	"up":    {0, -1},
	"down":  {0, 1},
	"left":  {-1, 0},
	"right": {1, 0},
}

// Scroll scrolls the page by a pixel offset. An unrecognized direction is
// accepted and scrolls nothing, which existing callers depend on.
func (d *Dispatcher) Scroll(ctx context.Context, req ScrollRequest) (*Ack, error) {
	pixels := DefaultScrollPixels
	if req.Pixels != nil {
		pixels = *req.Pixels
	}
	if pixels <= 0 {
		return nil, session.NewError(session.KindInvalidArgument, "pixels must be a positive integer")
	}
	direction := req.Direction
	if direction == "" {
		direction = "down"
	}

	s, release, err := d.acquire(req.SessionID)
	if err != nil {
		return nil, err
	}

	vector, known := scrollVectors[direction]
	if !known {
		release()
		return d.ack(s.ID(), "scrolled %s by %dpx", direction, pixels), nil
	}

	budget := msTimeout(0, DefaultClickTimeout)
	err = d.run(ctx, fmt.Sprintf("scroll %s", direction), budget, release, func() error {
		return s.Handle().ScrollBy(vector[0]*pixels, vector[1]*pixels)
	})
	if err != nil {
		return nil, err
	}
	return d.ack(s.ID(), "scrolled %s by %dpx", direction, pixels), nil
}

// Wait blocks until the selector becomes visible, or for the full timeout
// when no selector is given.
func (d *Dispatcher) Wait(ctx context.Context, req WaitRequest) (*Ack, error) {
	s, release, err := d.acquire(req.SessionID)
	if err != nil {
		return nil, err
	}

	timeout := msTimeout(req.Timeout, DefaultWaitTimeout)
	selector := strings.TrimSpace(req.Selector)
	label := "wait"
	if selector != "" {
		label = fmt.Sprintf("wait for %s", selector)
	}
	err = d.run(ctx, label, timeout, release, func() error {
		if selector == "" {
			select {
			case <-time.After(timeout):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return s.Handle().WaitForSelector(selector, driver.WaitOptions{
			State:   "visible",
			Timeout: float64(timeout / time.Millisecond),
		})
	})
	if err != nil {
		return nil, err
	}

	if selector == "" {
		return d.ack(s.ID(), "waited %dms", int(timeout/time.Millisecond)), nil
	}
	return d.ack(s.ID(), "element %s appeared", selector), nil
}

// Extract reads the text content or an attribute from every element
// matching the selector. Text values are trimmed and empties dropped; a
// selector that matches nothing succeeds with an empty list.
func (d *Dispatcher) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if strings.TrimSpace(req.Selector) == "" {
		return nil, session.NewError(session.KindInvalidArgument, "selector is required")
	}
	attribute := strings.TrimSpace(req.Attribute)
	if attribute == "text" {
		attribute = ""
	}

	s, release, err := d.acquire(req.SessionID)
	if err != nil {
		return nil, err
	}

	var raw []string
	budget := msTimeout(0, DefaultVisitTimeout)
	err = d.run(ctx, fmt.Sprintf("extract %s", req.Selector), budget, release, func() error {
		values, err := s.Handle().QueryAll(req.Selector, attribute)
		if err != nil {
			return err
		}
		raw = values
		return nil
	})
	if err != nil {
		return nil, err
	}

	data := make([]string, 0, len(raw))
	for _, value := range raw {
		if attribute == "" {
			value = strings.TrimSpace(value)
		}
		if value == "" {
			continue
		}
		data = append(data, value)
	}
	return &ExtractResult{SessionID: s.ID(), Data: data, Count: len(data)}, nil
}

// Screenshot captures the full page as PNG bytes. When a screenshot
// directory is configured the image is also written to <session-id>.png
// inside it.
func (d *Dispatcher) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	s, release, err := d.acquire(sessionID)
	if err != nil {
		return nil, err
	}

	opts := driver.ScreenshotOptions{FullPage: true}
	if d.cfg.ScreenshotDir != "" {
		opts.Path = filepath.Join(d.cfg.ScreenshotDir, s.ID()+".png")
	}

	var data []byte
	budget := msTimeout(0, DefaultVisitTimeout)
	err = d.run(ctx, "screenshot", budget, release, func() error {
		b, err := s.Handle().Screenshot(opts)
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Info reports the session's current page title, URL, document ready
// state and viewport.
func (d *Dispatcher) Info(ctx context.Context, sessionID string) (*InfoResult, error) {
	s, release, err := d.acquire(sessionID)
	if err != nil {
		return nil, err
	}

	result := &InfoResult{SessionID: s.ID()}
	budget := msTimeout(0, DefaultClickTimeout)
	err = d.run(ctx, "info", budget, release, func() error {
		h := s.Handle()
		title, err := h.Title()
		if err != nil {
			return err
		}
		result.Title = title
		result.URL = h.URL()
		width, height := h.Viewport()
		result.Viewport = Viewport{Width: width, Height: height}
		if value, err := h.Evaluate("document.readyState"); err == nil {
			if state, ok := value.(string); ok {
				result.ReadyState = state
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Outline returns a reduced rendering of the current page HTML, capped at
// maxLength characters. Pass 0 for the default cap.
func (d *Dispatcher) Outline(ctx context.Context, sessionID string, maxLength int) (*OutlineResult, error) {
	if maxLength == 0 {
		maxLength = DefaultOutlineMaxLength
	}
	if maxLength < MinOutlineMaxLength || maxLength > MaxOutlineMaxLength {
		return nil, session.NewError(session.KindInvalidArgument,
			"max_length must be between %d and %d", MinOutlineMaxLength, MaxOutlineMaxLength)
	}

	s, release, err := d.acquire(sessionID)
	if err != nil {
		return nil, err
	}

	var raw, pageURL string
	budget := msTimeout(0, DefaultVisitTimeout)
	err = d.run(ctx, "outline", budget, release, func() error {
		h := s.Handle()
		content, err := h.Content()
		if err != nil {
			return err
		}
		raw = content
		pageURL = h.URL()
		return nil
	})
	if err != nil {
		return nil, err
	}

	page, err := reduce(raw, maxLength)
	if err != nil {
		return nil, session.WrapError(session.KindActionFailed, err, "outline failed")
	}
	return &OutlineResult{
		SessionID:   s.ID(),
		Title:       page.Title,
		Description: page.Description,
		URL:         pageURL,
		HTML:        page.HTML,
		Truncated:   page.Truncated,
	}, nil
}

// CloseSession closes a session, waiting up to the close grace for an
// in-flight action before forcing the browser down.
func (d *Dispatcher) CloseSession(ctx context.Context, req CloseRequest) (*Ack, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		return nil, session.NewError(session.KindInvalidArgument, "session_id is required")
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.CloseGrace)
	defer cancel()
	if err := d.registry.Close(cctx, id); err != nil {
		return nil, err
	}
	d.removeScreenshot(id)
	return d.ack(id, "session %s closed", id), nil
}

// removeScreenshot drops the session's side-channel screenshot file, if
// one was written.
func (d *Dispatcher) removeScreenshot(id string) {
	if d.cfg.ScreenshotDir == "" {
		return
	}
	_ = os.Remove(filepath.Join(d.cfg.ScreenshotDir, id+".png"))
}

// List returns a snapshot of live sessions, oldest first.
func (d *Dispatcher) List() *ListResult {
	sessions := d.registry.List()
	return &ListResult{Sessions: sessions, Count: len(sessions)}
}

// Health reports service status for monitoring probes.
func (d *Dispatcher) Health() *HealthResult {
	return &HealthResult{
		Status:      "ok",
		Environment: d.cfg.Environment,
		Headless:    d.cfg.Launch.Headless,
		DriverReady: d.super.Ready(),
		Sessions:    d.registry.Len(),
	}
}

func (d *Dispatcher) ack(sessionID, format string, args ...interface{}) *Ack {
	return &Ack{
		SessionID: sessionID,
		Status:    "success",
		Message:   fmt.Sprintf(format, args...),
	}
}

// msTimeout converts a request's millisecond timeout, applying the action
// default when the field was omitted or non-positive.
func msTimeout(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

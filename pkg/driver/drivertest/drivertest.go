// Package drivertest provides an in-memory, instrumented Driver for tests.
// Handles record every call with start and end timestamps and track how
// many calls ran concurrently, so tests can assert both behavior and
// serialization without a real browser.
package drivertest

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/entrhq/pagedock/pkg/driver"
)

// Call is one recorded driver call on a handle.
type Call struct {
	Name   string
	Detail string
	Start  time.Time
	End    time.Time
}

// Driver is a fake driver.Driver. Configure the exported fields before
// use; they are not safe to change while calls are in flight.
type Driver struct {
	EnsureErr   error
	LaunchErr   error
	LaunchDelay time.Duration

	// HandleDefaults is copied onto every launched handle's settings.
	HandleDefaults HandleConfig

	mu       sync.Mutex
	ensures  int
	launches int
	stopped  bool
	profiles []driver.Profile
	handles  []*Handle
}

// HandleConfig sets up a launched handle's behavior.
type HandleConfig struct {
	// CallDelay is artificial latency applied to every page call.
	CallDelay time.Duration

	// NavigateErr fails every Navigate with this error.
	NavigateErr error

	// CallErr fails every non-navigation page call with this error.
	CallErr error

	// QueryResults is returned by QueryAll.
	QueryResults []string

	// ScreenshotData is returned by Screenshot.
	ScreenshotData []byte

	// PageTitle is returned by Title.
	PageTitle string

	// PageContent is returned by Content.
	PageContent string

	// EvalResult is returned by Evaluate.
	EvalResult interface{}
}

// NewDriver creates a fake driver with no configured failures.
func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) Ensure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensures++
	return d.EnsureErr
}

func (d *Driver) Launch(profile driver.Profile) (driver.Handle, error) {
	if d.LaunchDelay > 0 {
		time.Sleep(d.LaunchDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	d.profiles = append(d.profiles, profile)
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}

	h := &Handle{
		cfg:        d.HandleDefaults,
		alive:      true,
		currentURL: "about:blank",
		width:      profile.ViewportWidth,
		height:     profile.ViewportHeight,
	}
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

// Ensures returns how many times Ensure was called.
func (d *Driver) Ensures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensures
}

// Launches returns how many times Launch was called.
func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

// Stopped reports whether Stop was called.
func (d *Driver) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// Profiles returns the launch profiles seen so far.
func (d *Driver) Profiles() []driver.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]driver.Profile(nil), d.profiles...)
}

// Handles returns every handle launched so far.
func (d *Driver) Handles() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.handles...)
}

// LastHandle returns the most recently launched handle, or nil.
func (d *Driver) LastHandle() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

// Handle is a fake driver.Handle that records its calls.
type Handle struct {
	cfg HandleConfig

	mu            sync.Mutex
	alive         bool
	closed        int
	currentURL    string
	width, height int
	calls         []Call
	inFlight      int
	maxInFlight   int
}

// begin records the start of a call and returns a func recording its end.
func (h *Handle) begin(name, detail string) func() {
	h.mu.Lock()
	h.inFlight++
	if h.inFlight > h.maxInFlight {
		h.maxInFlight = h.inFlight
	}
	h.calls = append(h.calls, Call{Name: name, Detail: detail, Start: time.Now()})
	index := len(h.calls) - 1
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		h.calls[index].End = time.Now()
		h.inFlight--
		h.mu.Unlock()
	}
}

func (h *Handle) sleep() {
	if h.cfg.CallDelay > 0 {
		time.Sleep(h.cfg.CallDelay)
	}
}

func (h *Handle) Navigate(url string, opts driver.NavigateOptions) error {
	defer h.begin("navigate", fmt.Sprintf("%s waitUntil=%s", url, opts.WaitUntil))()
	h.sleep()
	if h.cfg.NavigateErr != nil {
		return h.cfg.NavigateErr
	}
	h.mu.Lock()
	h.currentURL = url
	h.mu.Unlock()
	return nil
}

func (h *Handle) Click(selector string, opts driver.ClickOptions) error {
	defer h.begin("click", selector)()
	h.sleep()
	return h.cfg.CallErr
}

func (h *Handle) Fill(selector, text string, opts driver.FillOptions) error {
	defer h.begin("fill", selector+"="+text)()
	h.sleep()
	return h.cfg.CallErr
}

func (h *Handle) Type(selector, text string, opts driver.FillOptions) error {
	defer h.begin("type", selector+"="+text)()
	h.sleep()
	return h.cfg.CallErr
}

func (h *Handle) ScrollBy(dx, dy int) error {
	defer h.begin("scrollBy", fmt.Sprintf("%d,%d", dx, dy))()
	h.sleep()
	return h.cfg.CallErr
}

func (h *Handle) WaitForSelector(selector string, opts driver.WaitOptions) error {
	defer h.begin("waitForSelector", selector+" state="+opts.State)()
	h.sleep()
	return h.cfg.CallErr
}

func (h *Handle) QueryAll(selector, attribute string) ([]string, error) {
	defer h.begin("queryAll", selector+" attr="+attribute)()
	h.sleep()
	if h.cfg.CallErr != nil {
		return nil, h.cfg.CallErr
	}
	return append([]string(nil), h.cfg.QueryResults...), nil
}

func (h *Handle) Screenshot(opts driver.ScreenshotOptions) ([]byte, error) {
	defer h.begin("screenshot", opts.Path)()
	h.sleep()
	if h.cfg.CallErr != nil {
		return nil, h.cfg.CallErr
	}
	data := h.cfg.ScreenshotData
	if data == nil {
		data = []byte("png")
	}
	if opts.Path != "" {
		if err := os.WriteFile(opts.Path, data, 0600); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (h *Handle) Content() (string, error) {
	defer h.begin("content", "")()
	h.sleep()
	if h.cfg.CallErr != nil {
		return "", h.cfg.CallErr
	}
	return h.cfg.PageContent, nil
}

func (h *Handle) Title() (string, error) {
	defer h.begin("title", "")()
	if h.cfg.CallErr != nil {
		return "", h.cfg.CallErr
	}
	return h.cfg.PageTitle, nil
}

func (h *Handle) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentURL
}

func (h *Handle) Evaluate(expression string) (interface{}, error) {
	defer h.begin("evaluate", expression)()
	if h.cfg.CallErr != nil {
		return nil, h.cfg.CallErr
	}
	if h.cfg.EvalResult != nil {
		return h.cfg.EvalResult, nil
	}
	if expression == "document.readyState" {
		return "complete", nil
	}
	return nil, nil
}

func (h *Handle) Viewport() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height
}

func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	h.alive = false
	return nil
}

// SetAlive flips the liveness the handle reports.
func (h *Handle) SetAlive(alive bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = alive
}

// Closed returns how many times Close was called.
func (h *Handle) Closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Calls returns the recorded calls in order.
func (h *Handle) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallNames returns just the names of the recorded calls, in order.
func (h *Handle) CallNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.calls))
	for i, c := range h.calls {
		names[i] = c.Name
	}
	return names
}

// MaxConcurrent reports the highest number of calls ever in flight at
// once. A serialized session never exceeds 1.
func (h *Handle) MaxConcurrent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxInFlight
}

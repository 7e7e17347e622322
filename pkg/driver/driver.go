// Package driver wraps the browser automation engine behind a narrow
// interface. The session core and the action dispatcher only ever see the
// Driver and Handle types defined here; every engine-specific detail
// (process management, option structs, error strings) stays inside the
// playwright implementation.
package driver

// Default values for launch and per-call behavior.
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)

// Profile describes how a browser instance should be launched.
type Profile struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Args are extra engine flags, e.g. sandbox/shm switches for
	// constrained container hosts
	Args []string

	// ViewportWidth and ViewportHeight set the initial viewport size
	// (zero means the package defaults)
	ViewportWidth  int
	ViewportHeight int

	// Timeout is the engine-side default timeout for page calls,
	// in milliseconds (zero means DefaultTimeout)
	Timeout float64
}

// NavigateOptions configures page navigation behavior.
type NavigateOptions struct {
	// WaitUntil specifies when to consider navigation successful
	// Valid values: "load", "domcontentloaded", "networkidle"
	WaitUntil string

	// Timeout in milliseconds (0 means the launch profile default)
	Timeout float64
}

// ClickOptions configures element clicking behavior.
type ClickOptions struct {
	// Button specifies which mouse button to use (left, right, middle)
	Button string

	// ClickCount is the number of times to click (1 for single, 2 for double)
	ClickCount int

	// Timeout in milliseconds
	Timeout float64
}

// FillOptions configures form input filling.
type FillOptions struct {
	// Timeout in milliseconds
	Timeout float64
}

// WaitOptions configures waiting for a selector.
type WaitOptions struct {
	// State to wait for: "attached", "detached", "visible", "hidden"
	State string

	// Timeout in milliseconds
	Timeout float64
}

// ScreenshotOptions configures screenshot capture.
type ScreenshotOptions struct {
	// FullPage captures the full scrollable page instead of the viewport
	FullPage bool

	// Path, when set, also writes the image to this file
	Path string
}

// Driver manages the engine process and launches browser instances.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Ensure verifies the engine and its browser binaries are available,
	// installing them on first use. Safe to call repeatedly; subsequent
	// calls after success are cheap.
	Ensure() error

	// Launch starts a fresh browser instance with its own context and page
	// and returns the handle for driving it.
	Launch(profile Profile) (Handle, error)

	// Stop tears down the engine itself. All handles should be closed first.
	Stop() error
}

// Handle drives a single live browser page. A Handle is owned by exactly
// one session and is not safe for concurrent calls; the session core
// serializes access.
type Handle interface {
	// Navigate loads the given URL and blocks until the configured
	// wait-until state is reached.
	Navigate(url string, opts NavigateOptions) error

	// Click clicks the first element matching the selector.
	Click(selector string, opts ClickOptions) error

	// Fill replaces the value of the matching input with text.
	Fill(selector, text string, opts FillOptions) error

	// Type appends text to the matching input, key by key, without
	// clearing the existing value.
	Type(selector, text string, opts FillOptions) error

	// ScrollBy scrolls the page by the given pixel offsets.
	ScrollBy(dx, dy int) error

	// WaitForSelector blocks until an element matching the selector
	// reaches the requested state.
	WaitForSelector(selector string, opts WaitOptions) error

	// QueryAll returns one value per element matching the selector: the
	// element's text content when attribute is empty, otherwise the named
	// attribute. Values are returned raw; absent values come back as "".
	QueryAll(selector, attribute string) ([]string, error)

	// Screenshot captures the current page as PNG bytes.
	Screenshot(opts ScreenshotOptions) ([]byte, error)

	// Content returns the full serialized HTML of the current page.
	Content() (string, error)

	// Title returns the current page title.
	Title() (string, error)

	// URL returns the current page URL without a round trip to the engine.
	URL() string

	// Evaluate runs a JavaScript expression on the page and returns its value.
	Evaluate(expression string) (interface{}, error)

	// Viewport returns the viewport size the handle was launched with.
	Viewport() (width, height int)

	// Alive reports whether the underlying browser is still connected
	// and the page is still open.
	Alive() bool

	// Close releases the page, context, and browser. Close is best-effort:
	// it keeps going when an individual resource fails and returns the
	// first error seen.
	Close() error
}

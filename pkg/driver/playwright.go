package driver

import (
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Playwright is the production Driver, backed by the Playwright engine
// driving Chromium.
type Playwright struct {
	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywright creates an unstarted Playwright driver. The engine is
// installed and started by the first Ensure call.
func NewPlaywright() *Playwright {
	return &Playwright{}
}

// Ensure installs the engine and browser binaries if needed and starts the
// engine process. The first call on a fresh host downloads Chromium and can
// take a while; once the engine is running, later calls return immediately.
func (d *Playwright) Ensure() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw != nil {
		return nil
	}

	// Discard driver output so it does not interleave with our own logs
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	d.pw = pw
	return nil
}

// Launch starts a Chromium instance with its own context and page.
func (d *Playwright) Launch(profile Profile) (Handle, error) {
	d.mu.Lock()
	pw := d.pw
	d.mu.Unlock()

	if pw == nil {
		return nil, fmt.Errorf("playwright not started")
	}

	// Set defaults
	if profile.ViewportWidth == 0 {
		profile.ViewportWidth = DefaultViewportWidth
	}
	if profile.ViewportHeight == 0 {
		profile.ViewportHeight = DefaultViewportHeight
	}
	if profile.Timeout == 0 {
		profile.Timeout = DefaultTimeout
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &profile.Headless,
	}
	if len(profile.Args) > 0 {
		launchOpts.Args = profile.Args
	}
	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  profile.ViewportWidth,
			Height: profile.ViewportHeight,
		},
	}
	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	page.SetDefaultTimeout(profile.Timeout)

	return &pageHandle{
		browser: browser,
		context: context,
		page:    page,
		width:   profile.ViewportWidth,
		height:  profile.ViewportHeight,
	}, nil
}

// Stop shuts down the engine process.
func (d *Playwright) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw == nil {
		return nil
	}
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	d.pw = nil
	return nil
}

// pageHandle drives a single Chromium page through Playwright.
type pageHandle struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	width   int
	height  int
}

func (h *pageHandle) Navigate(url string, opts NavigateOptions) error {
	playwrightOpts := playwright.PageGotoOptions{}
	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		playwrightOpts.WaitUntil = &waitUntil
	}
	if opts.Timeout > 0 {
		playwrightOpts.Timeout = &opts.Timeout
	}

	if _, err := h.page.Goto(url, playwrightOpts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (h *pageHandle) Click(selector string, opts ClickOptions) error {
	playwrightOpts := playwright.PageClickOptions{}
	if opts.Button != "" {
		button := playwright.MouseButton(opts.Button)
		playwrightOpts.Button = &button
	}
	if opts.ClickCount > 0 {
		playwrightOpts.ClickCount = &opts.ClickCount
	}
	if opts.Timeout > 0 {
		playwrightOpts.Timeout = &opts.Timeout
	}

	if err := h.page.Click(selector, playwrightOpts); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (h *pageHandle) Fill(selector, text string, opts FillOptions) error {
	playwrightOpts := playwright.PageFillOptions{}
	if opts.Timeout > 0 {
		playwrightOpts.Timeout = &opts.Timeout
	}

	if err := h.page.Fill(selector, text, playwrightOpts); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (h *pageHandle) Type(selector, text string, opts FillOptions) error {
	playwrightOpts := playwright.PageTypeOptions{}
	if opts.Timeout > 0 {
		playwrightOpts.Timeout = &opts.Timeout
	}

	if err := h.page.Type(selector, text, playwrightOpts); err != nil {
		return fmt.Errorf("type failed: %w", err)
	}
	return nil
}

func (h *pageHandle) ScrollBy(dx, dy int) error {
	if _, err := h.page.Evaluate(fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

func (h *pageHandle) WaitForSelector(selector string, opts WaitOptions) error {
	playwrightOpts := playwright.PageWaitForSelectorOptions{}
	if opts.State != "" {
		state := playwright.WaitForSelectorState(opts.State)
		playwrightOpts.State = &state
	}
	if opts.Timeout > 0 {
		playwrightOpts.Timeout = &opts.Timeout
	}

	if _, err := h.page.WaitForSelector(selector, playwrightOpts); err != nil {
		return fmt.Errorf("wait for selector failed: %w", err)
	}
	return nil
}

func (h *pageHandle) QueryAll(selector, attribute string) ([]string, error) {
	elements, err := h.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}

	values := make([]string, 0, len(elements))
	for _, element := range elements {
		var value string
		var err error
		if attribute == "" {
			value, err = element.TextContent()
		} else {
			value, err = element.GetAttribute(attribute)
		}
		if err != nil {
			// The element went away between query and read; treat as absent
			value = ""
		}
		values = append(values, value)
	}
	return values, nil
}

func (h *pageHandle) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	playwrightOpts := playwright.PageScreenshotOptions{}
	if opts.FullPage {
		fullPage := true
		playwrightOpts.FullPage = &fullPage
	}
	if opts.Path != "" {
		playwrightOpts.Path = &opts.Path
	}

	data, err := h.page.Screenshot(playwrightOpts)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (h *pageHandle) Content() (string, error) {
	content, err := h.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return content, nil
}

func (h *pageHandle) Title() (string, error) {
	return h.page.Title()
}

func (h *pageHandle) URL() string {
	return h.page.URL()
}

func (h *pageHandle) Evaluate(expression string) (interface{}, error) {
	return h.page.Evaluate(expression)
}

func (h *pageHandle) Viewport() (int, int) {
	return h.width, h.height
}

func (h *pageHandle) Alive() bool {
	return h.browser.IsConnected() && !h.page.IsClosed()
}

func (h *pageHandle) Close() error {
	var firstErr error
	if err := h.page.Close(); err != nil {
		firstErr = err
	}
	if err := h.context.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := h.browser.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

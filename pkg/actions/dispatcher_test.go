package actions

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagedock/pkg/driver"
	"github.com/entrhq/pagedock/pkg/driver/drivertest"
	"github.com/entrhq/pagedock/pkg/logging"
	"github.com/entrhq/pagedock/pkg/security/urlguard"
	"github.com/entrhq/pagedock/pkg/session"
)

func init() {
	logging.SetOutput(io.Discard)
}

type testEnv struct {
	dispatcher *Dispatcher
	registry   *session.Registry
	driver     *drivertest.Driver
}

func newTestEnv(t *testing.T, mutate ...func(*drivertest.Driver, *Config)) *testEnv {
	t.Helper()

	d := drivertest.NewDriver()
	cfg := Config{
		Launch:         driver.Profile{Headless: true},
		AcquireTimeout: time.Second,
		CloseGrace:     time.Second,
		Environment:    "local",
	}
	maxSessions := 5
	for _, fn := range mutate {
		fn(d, &cfg)
	}
	if cfg.Launch.ViewportWidth == 0 {
		cfg.Launch.ViewportWidth = driver.DefaultViewportWidth
		cfg.Launch.ViewportHeight = driver.DefaultViewportHeight
	}

	registry := session.NewRegistry(d, maxSessions, logging.NewLogger("registry"))
	super := session.NewSupervisor(registry, d, session.SupervisorOptions{
		ShutdownGrace: time.Second,
	}, logging.NewLogger("supervisor"))

	guard, err := urlguard.New(nil, []string{"*://blocked.example.com/*"})
	require.NoError(t, err)

	return &testEnv{
		dispatcher: NewDispatcher(registry, super, guard, cfg),
		registry:   registry,
		driver:     d,
	}
}

// visit opens a session for tests that exercise a follow-up action.
func (e *testEnv) visit(t *testing.T) string {
	t.Helper()
	result, err := e.dispatcher.Visit(context.Background(), VisitRequest{URL: "https://example.com"})
	require.NoError(t, err)
	return result.SessionID
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

// actionCalls returns the driver calls recorded after the opening visit,
// which itself contributes a navigate and a title lookup.
func actionCalls(h *drivertest.Handle) []drivertest.Call {
	return h.Calls()[2:]
}

func actionCallNames(h *drivertest.Handle) []string {
	names := make([]string, 0)
	for _, call := range actionCalls(h) {
		names = append(names, call.Name)
	}
	return names
}

func TestVisitValidatesURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"unsupported scheme", "ftp://example.com/file"},
		{"denied by policy", "https://blocked.example.com/admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.dispatcher.Visit(ctx, VisitRequest{URL: tt.url})
			require.Error(t, err)
			assert.True(t, session.IsKind(err, session.KindInvalidArgument))
		})
	}

	// Nothing was launched for any rejected URL
	assert.Equal(t, 0, env.driver.Launches())
	assert.Equal(t, 0, env.registry.Len())
}

func TestVisitCreatesSessionAndNavigates(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.HandleDefaults.PageTitle = "Example Domain"
	})

	result, err := env.dispatcher.Visit(context.Background(), VisitRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "https://example.com", result.URL)
	assert.Equal(t, "Example Domain", result.Title)

	h := env.driver.LastHandle()
	require.NotEmpty(t, h.Calls())
	assert.Equal(t, "navigate", h.Calls()[0].Name)
	assert.Contains(t, h.Calls()[0].Detail, "waitUntil=networkidle")

	infos := env.registry.List()
	require.Len(t, infos, 1)
	assert.Equal(t, session.StateActive, infos[0].State)
	assert.Equal(t, "https://example.com", infos[0].OriginURL)
}

func TestVisitWithoutWaitUsesDOMContentLoaded(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.dispatcher.Visit(context.Background(), VisitRequest{
		URL:         "https://example.com",
		WaitForLoad: boolPtr(false),
	})
	require.NoError(t, err)

	assert.Contains(t, env.driver.LastHandle().Calls()[0].Detail, "waitUntil=domcontentloaded")
}

func TestVisitTearsDownSessionOnNavigationFailure(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.HandleDefaults.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	})

	_, err := env.dispatcher.Visit(context.Background(), VisitRequest{URL: "https://nope.invalid"})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindActionFailed))

	// Cleanup runs in the background; the dead session must disappear
	require.Eventually(t, func() bool { return env.registry.Len() == 0 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, env.driver.LastHandle().Closed())
}

func TestVisitDriverNotReady(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.EnsureErr = errors.New("playwright install failed")
	})

	_, err := env.dispatcher.Visit(context.Background(), VisitRequest{URL: "https://example.com"})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindDriverUnavailable))
	assert.Equal(t, 0, env.driver.Launches())
}

func TestVisitCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The test registry caps at 5 sessions
	for i := 0; i < 5; i++ {
		_, err := env.dispatcher.Visit(ctx, VisitRequest{URL: "https://example.com"})
		require.NoError(t, err)
	}

	_, err := env.dispatcher.Visit(ctx, VisitRequest{URL: "https://example.com"})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindCapacityExceeded))
}

func TestClickWaitsForElementByDefault(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	ack, err := env.dispatcher.Click(context.Background(), ClickRequest{
		SessionID: id,
		Selector:  "#submit",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", ack.Status)
	assert.Contains(t, ack.Message, "#submit")

	h := env.driver.LastHandle()
	assert.Equal(t, []string{"waitForSelector", "click"}, actionCallNames(h))
	assert.Contains(t, actionCalls(h)[0].Detail, "state=visible")
}

func TestClickSkipsWaitWhenDisabled(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	_, err := env.dispatcher.Click(context.Background(), ClickRequest{
		SessionID:      id,
		Selector:       "#submit",
		WaitForElement: boolPtr(false),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"click"}, actionCallNames(env.driver.LastHandle()))
}

func TestClickValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.dispatcher.Click(ctx, ClickRequest{SessionID: "s1"})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindInvalidArgument))

	_, err = env.dispatcher.Click(ctx, ClickRequest{Selector: "#x"})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindInvalidArgument))

	_, err = env.dispatcher.Click(ctx, ClickRequest{SessionID: "unknown", Selector: "#x"})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindNotFound))
}

func TestTypeClearsFieldByDefault(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	ack, err := env.dispatcher.Type(context.Background(), TypeRequest{
		SessionID: id,
		Selector:  "#email",
		Text:      "user@example.com",
	})
	require.NoError(t, err)
	assert.Contains(t, ack.Message, "16 characters")

	h := env.driver.LastHandle()
	assert.Equal(t, []string{"waitForSelector", "fill"}, actionCallNames(h))
	assert.Equal(t, "#email=user@example.com", actionCalls(h)[1].Detail)
}

func TestTypeAppendsWhenClearDisabled(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	_, err := env.dispatcher.Type(context.Background(), TypeRequest{
		SessionID:      id,
		Selector:       "#notes",
		Text:           " more",
		ClearFirst:     boolPtr(false),
		WaitForElement: boolPtr(false),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"type"}, actionCallNames(env.driver.LastHandle()))
}

func TestScrollDirections(t *testing.T) {
	tests := []struct {
		name       string
		direction  string
		pixels     *int
		wantDetail string
	}{
		{"down by default", "", nil, "0,500"},
		{"up", "up", nil, "0,-500"},
		{"left", "left", nil, "-500,0"},
		{"right", "right", nil, "500,0"},
		{"explicit pixels", "down", intPtr(120), "0,120"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			id := env.visit(t)

			ack, err := env.dispatcher.Scroll(context.Background(), ScrollRequest{
				SessionID: id,
				Direction: tt.direction,
				Pixels:    tt.pixels,
			})
			require.NoError(t, err)
			assert.Equal(t, "success", ack.Status)

			calls := actionCalls(env.driver.LastHandle())
			require.Len(t, calls, 1)
			assert.Equal(t, "scrollBy", calls[0].Name)
			assert.Equal(t, tt.wantDetail, calls[0].Detail)
		})
	}
}

func TestScrollUnknownDirectionIsAcceptedWithoutScrolling(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	ack, err := env.dispatcher.Scroll(context.Background(), ScrollRequest{
		SessionID: id,
		Direction: "diagonal",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", ack.Status)
	assert.Contains(t, ack.Message, "diagonal")

	// No scrollBy reached the driver
	assert.Empty(t, actionCallNames(env.driver.LastHandle()))

	// And the session is usable again immediately
	_, err = env.dispatcher.Scroll(context.Background(), ScrollRequest{SessionID: id, Direction: "down"})
	require.NoError(t, err)
}

func TestScrollRejectsNonPositivePixels(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	for _, px := range []int{0, -10} {
		_, err := env.dispatcher.Scroll(context.Background(), ScrollRequest{
			SessionID: id,
			Pixels:    intPtr(px),
		})
		require.Error(t, err)
		assert.True(t, session.IsKind(err, session.KindInvalidArgument))
	}
}

func TestWaitForSelector(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	ack, err := env.dispatcher.Wait(context.Background(), WaitRequest{
		SessionID: id,
		Selector:  ".loaded",
	})
	require.NoError(t, err)
	assert.Contains(t, ack.Message, ".loaded")

	calls := actionCalls(env.driver.LastHandle())
	require.Len(t, calls, 1)
	assert.Equal(t, "waitForSelector", calls[0].Name)
	assert.Contains(t, calls[0].Detail, "state=visible")
}

func TestWaitWithoutSelectorSleeps(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	start := time.Now()
	ack, err := env.dispatcher.Wait(context.Background(), WaitRequest{
		SessionID: id,
		Timeout:   60,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Contains(t, ack.Message, "waited 60ms")

	// A bare wait never touches the driver
	assert.Empty(t, actionCallNames(env.driver.LastHandle()))
}

func TestExtractTextTrimsAndDropsEmpties(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.HandleDefaults.QueryResults = []string{"  hello  ", "", "   ", "world"}
	})
	id := env.visit(t)

	result, err := env.dispatcher.Extract(context.Background(), ExtractRequest{
		SessionID: id,
		Selector:  "p",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, result.Data)
	assert.Equal(t, 2, result.Count)

	// "text" is the default attribute and maps to text content
	assert.Equal(t, "p attr=", actionCalls(env.driver.LastHandle())[0].Detail)
}

func TestExtractAttributeKeepsRawValues(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.HandleDefaults.QueryResults = []string{"/a", "", "/b "}
	})
	id := env.visit(t)

	result, err := env.dispatcher.Extract(context.Background(), ExtractRequest{
		SessionID: id,
		Selector:  "a",
		Attribute: "href",
	})
	require.NoError(t, err)

	// Attribute values keep their whitespace; only absent ones are dropped
	assert.Equal(t, []string{"/a", "/b "}, result.Data)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, "a attr=href", actionCalls(env.driver.LastHandle())[0].Detail)
}

func TestExtractTextAliasAndNoMatches(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	result, err := env.dispatcher.Extract(context.Background(), ExtractRequest{
		SessionID: id,
		Selector:  ".missing",
		Attribute: "text",
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Data)
	assert.Empty(t, result.Data)
	assert.Equal(t, 0, result.Count)
	assert.Equal(t, ".missing attr=", actionCalls(env.driver.LastHandle())[0].Detail)
}

func TestActionsSerializeOnOneSession(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.HandleDefaults.CallDelay = 30 * time.Millisecond
	})
	id := env.visit(t)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.dispatcher.Click(context.Background(), ClickRequest{
				SessionID:      id,
				Selector:       "#b",
				WaitForElement: boolPtr(false),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.driver.LastHandle().MaxConcurrent())
}

func TestBusySessionTimesOutAcquire(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, cfg *Config) {
		d.HandleDefaults.CallDelay = 300 * time.Millisecond
		cfg.AcquireTimeout = 30 * time.Millisecond
	})
	id := env.visit(t)

	blocker := make(chan error, 1)
	go func() {
		_, err := env.dispatcher.Click(context.Background(), ClickRequest{
			SessionID:      id,
			Selector:       "#slow",
			WaitForElement: boolPtr(false),
		})
		blocker <- err
	}()

	time.Sleep(50 * time.Millisecond) // let the click take the session

	_, err := env.dispatcher.Extract(context.Background(), ExtractRequest{
		SessionID: id,
		Selector:  "p",
	})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindBusyTimeout))

	require.NoError(t, <-blocker)
}

func TestAbandonedActionKeepsSessionBusyUntilDriverReturns(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.HandleDefaults.CallDelay = 1300 * time.Millisecond
	})
	id := env.visit(t)

	_, err := env.dispatcher.Click(context.Background(), ClickRequest{
		SessionID:      id,
		Selector:       "#wedged",
		Timeout:        50,
		WaitForElement: boolPtr(false),
	})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindActionFailed))
	assert.Contains(t, err.Error(), "timed out")

	// The driver call is still in flight, so the session stays Busy
	infos := env.registry.List()
	require.Len(t, infos, 1)
	assert.Equal(t, session.StateBusy, infos[0].State)

	// Once the wedged call finally returns the session recovers
	require.Eventually(t, func() bool {
		infos := env.registry.List()
		return len(infos) == 1 && infos[0].State == session.StateActive
	}, 2*time.Second, 20*time.Millisecond)
}

func TestInfoReportsPageState(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.HandleDefaults.PageTitle = "Dashboard"
	})
	id := env.visit(t)

	info, err := env.dispatcher.Info(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, info.SessionID)
	assert.Equal(t, "Dashboard", info.Title)
	assert.Equal(t, "https://example.com", info.URL)
	assert.Equal(t, "complete", info.ReadyState)
	assert.Equal(t, driver.DefaultViewportWidth, info.Viewport.Width)
	assert.Equal(t, driver.DefaultViewportHeight, info.Viewport.Height)
}

func TestOutlineReducesPageContent(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.HandleDefaults.PageContent = `<html><head><title>Shop</title>
			<script>track()</script></head>
			<body><div id="catalog"><h1>Products</h1></div></body></html>`
	})
	id := env.visit(t)

	result, err := env.dispatcher.Outline(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, "Shop", result.Title)
	assert.Equal(t, "https://example.com", result.URL)
	assert.Contains(t, result.HTML, `<div id="catalog">`)
	assert.NotContains(t, result.HTML, "track()")
	assert.False(t, result.Truncated)
}

func TestOutlineRejectsOutOfRangeMaxLength(t *testing.T) {
	env := newTestEnv(t)
	id := env.visit(t)

	for _, n := range []int{MinOutlineMaxLength - 1, MaxOutlineMaxLength + 1} {
		_, err := env.dispatcher.Outline(context.Background(), id, n)
		require.Error(t, err)
		assert.True(t, session.IsKind(err, session.KindInvalidArgument))
	}
}

func TestScreenshotWritesSessionFile(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, func(d *drivertest.Driver, cfg *Config) {
		d.HandleDefaults.ScreenshotData = []byte("fake png bytes")
		cfg.ScreenshotDir = dir
	})
	id := env.visit(t)

	data, err := env.dispatcher.Screenshot(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake png bytes"), data)

	path := filepath.Join(dir, id+".png")
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestCloseSessionRemovesScreenshotAndSession(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, func(d *drivertest.Driver, cfg *Config) {
		cfg.ScreenshotDir = dir
	})
	id := env.visit(t)

	_, err := env.dispatcher.Screenshot(context.Background(), id)
	require.NoError(t, err)
	path := filepath.Join(dir, id+".png")
	_, err = os.Stat(path)
	require.NoError(t, err)

	ack, err := env.dispatcher.CloseSession(context.Background(), CloseRequest{SessionID: id})
	require.NoError(t, err)
	assert.Contains(t, ack.Message, "closed")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, env.registry.Len())

	_, err = env.dispatcher.CloseSession(context.Background(), CloseRequest{SessionID: id})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindNotFound))
}

func TestVisitExtractCloseRoundTrip(t *testing.T) {
	env := newTestEnv(t, func(d *drivertest.Driver, _ *Config) {
		d.HandleDefaults.PageTitle = "Example Domain"
		d.HandleDefaults.QueryResults = []string{"Example Domain"}
	})
	ctx := context.Background()

	visit, err := env.dispatcher.Visit(ctx, VisitRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", visit.Title)

	result, err := env.dispatcher.Extract(ctx, ExtractRequest{
		SessionID: visit.SessionID,
		Selector:  "h1",
		Attribute: "text",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Example Domain"}, result.Data)
	assert.Equal(t, 1, result.Count)

	_, err = env.dispatcher.CloseSession(ctx, CloseRequest{SessionID: visit.SessionID})
	require.NoError(t, err)

	_, err = env.dispatcher.CloseSession(ctx, CloseRequest{SessionID: visit.SessionID})
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindNotFound))
}

func TestListReportsSessionsOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	first := env.visit(t)
	second := env.visit(t)

	result := env.dispatcher.List()
	assert.Equal(t, 2, result.Count)
	require.Len(t, result.Sessions, 2)
	assert.Equal(t, first, result.Sessions[0].ID)
	assert.Equal(t, second, result.Sessions[1].ID)
}

func TestHealthSnapshot(t *testing.T) {
	env := newTestEnv(t)

	health := env.dispatcher.Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "local", health.Environment)
	assert.True(t, health.Headless)
	assert.False(t, health.DriverReady)
	assert.Equal(t, 0, health.Sessions)

	env.visit(t)

	health = env.dispatcher.Health()
	assert.True(t, health.DriverReady)
	assert.Equal(t, 1, health.Sessions)
}

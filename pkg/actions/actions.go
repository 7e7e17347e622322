// Package actions implements the action layer of the service: request
// validation, session acquisition, and dispatch of each action to the
// browser driver. Every action resolves its session through the registry,
// holds it exclusively for the duration of the driver work, and returns a
// normalized result or a classified error.
package actions

import (
	"github.com/entrhq/pagedock/pkg/session"
)

// Default action timeouts in milliseconds. These mirror the wire
// contract: a request that omits its timeout gets the action's default.
const (
	DefaultVisitTimeout = 30000
	DefaultClickTimeout = 5000
	DefaultWaitTimeout  = 5000
	DefaultTypeTimeout  = 5000

	// DefaultScrollPixels is applied when a scroll request omits the
	// pixel count.
	DefaultScrollPixels = 500

	// Outline length bounds, in characters of reduced HTML.
	DefaultOutlineMaxLength = 10000
	MinOutlineMaxLength     = 100
	MaxOutlineMaxLength     = 100000
)

// VisitRequest opens a new session and navigates it to a URL.
// WaitForLoad defaults to true: the action waits for network idle rather
// than first paint.
type VisitRequest struct {
	URL         string `json:"url"`
	WaitForLoad *bool  `json:"wait_for_load,omitempty"`
	Timeout     int    `json:"timeout,omitempty"`
}

// VisitResult reports the new session and where the navigation landed.
type VisitResult struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
}

// ClickRequest clicks the first element matching a selector.
// WaitForElement defaults to true: the element must become visible before
// the click is attempted.
type ClickRequest struct {
	SessionID      string `json:"session_id"`
	Selector       string `json:"selector"`
	WaitForElement *bool  `json:"wait_for_element,omitempty"`
	Timeout        int    `json:"timeout,omitempty"`
}

// TypeRequest enters text into the first element matching a selector.
// ClearFirst defaults to true and replaces the element's current value;
// when false the text is appended keystroke by keystroke.
type TypeRequest struct {
	SessionID      string `json:"session_id"`
	Selector       string `json:"selector"`
	Text           string `json:"text"`
	ClearFirst     *bool  `json:"clear_first,omitempty"`
	WaitForElement *bool  `json:"wait_for_element,omitempty"`
}

// ScrollRequest scrolls the page by a pixel offset in one of the four
// cardinal directions.
type ScrollRequest struct {
	SessionID string `json:"session_id"`
	Direction string `json:"direction,omitempty"`
	Pixels    *int   `json:"pixels,omitempty"`
}

// WaitRequest waits for a selector to become visible, or simply pauses
// for the timeout when no selector is given.
type WaitRequest struct {
	SessionID string `json:"session_id"`
	Selector  string `json:"selector,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
}

// ExtractRequest pulls a value from every element matching a selector.
// Attribute selects an HTML attribute; empty or "text" extracts the
// element's text content.
type ExtractRequest struct {
	SessionID string `json:"session_id"`
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
}

// ExtractResult carries the extracted values. Count always equals
// len(Data); empty and whitespace-only text values are dropped.
type ExtractResult struct {
	SessionID string   `json:"session_id"`
	Data      []string `json:"data"`
	Count     int      `json:"count"`
}

// CloseRequest closes a session and releases its browser.
type CloseRequest struct {
	SessionID string `json:"session_id"`
}

// Ack acknowledges an action that produces no payload beyond a message.
type Ack struct {
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Viewport reports page dimensions in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// InfoResult describes the current page of a session.
type InfoResult struct {
	SessionID  string   `json:"session_id"`
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	ReadyState string   `json:"ready_state"`
	Viewport   Viewport `json:"viewport"`
}

// OutlineResult is the reduced, readable structure of the current page:
// scripts, styles and presentation attributes stripped, block structure
// kept.
type OutlineResult struct {
	SessionID   string `json:"session_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	HTML        string `json:"html"`
	Truncated   bool   `json:"truncated"`
}

// ListResult enumerates live sessions, oldest first.
type ListResult struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

// HealthResult reports service health for monitoring probes.
type HealthResult struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Headless    bool   `json:"headless"`
	DriverReady bool   `json:"driver_ready"`
	Sessions    int    `json:"sessions"`
}

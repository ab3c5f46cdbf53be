// Package browser wraps go-rod/rod behind a structured, no-raw-script
// command surface (launch, navigate, snapshot, click-by-ref, type-by-ref,
// screenshot, close). Grounded on the browser session manager
// in theRebelliousNerd-codenerd's internal/browser/session_manager.go: a
// headless Chrome launched via go-rod/rod/lib/launcher, one *rod.Browser
// per manager, navigation/click/screenshot driven through rod's typed
// Page API rather than arbitrary injected JS.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	navigationTimeout = 30 * time.Second
	snapshotTextLimit = 8192
	maxInteractive    = 50
)

// Element is one interactive element surfaced by Snapshot, addressable in
// later commands by its stable Ref rather than a CSS selector or raw DOM
// handle.
type Element struct {
	Ref   string `json:"ref"`
	Tag   string `json:"tag"`
	Text  string `json:"text"`
	Label string `json:"label,omitempty"`
}

// Snapshot is the structured page view returned to the model: no raw HTML
// or script execution, just title/URL/bounded text/bounded interactive
// element list.
type Snapshot struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Text        string    `json:"text"`
	Interactive []Element `json:"interactive"`
}

// session is one sandboxed session's browser context: a single page, plus
// the ref table Snapshot last produced for it.
type session struct {
	page *rod.Page
	refs map[string]*rod.Element
}

// Manager owns the per-session browser sessions for one AX process. A
// fresh headless Chrome is launched lazily on first Launch.
type Manager struct {
	mu       sync.Mutex
	browser  *rod.Browser
	sessions map[string]*session

	// AllowedDomains, when non-empty, is the closed navigation allowlist
	// enforced before any Navigate call.
	AllowedDomains map[string]bool
}

// NewManager returns an empty Manager; the underlying browser process is
// launched on first use.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

func (m *Manager) ensureBrowser() (*rod.Browser, error) {
	if m.browser != nil {
		return m.browser, nil
	}
	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch chrome: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return b, nil
}

// Launch opens a new page for sessionID, replacing any existing one.
func (m *Manager) Launch(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.ensureBrowser()
	if err != nil {
		return err
	}
	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("browser: open page: %w", err)
	}
	m.sessions[sessionID] = &session{page: page, refs: make(map[string]*rod.Element)}
	return nil
}

func (m *Manager) session(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("browser: no open session %q (call browser.launch first)", sessionID)
	}
	return s, nil
}

// Navigate loads url in sessionID's page. If AllowedDomains is non-empty,
// url's host must be a member.
func (m *Manager) Navigate(ctx context.Context, sessionID, url string) error {
	if len(m.AllowedDomains) > 0 && !m.domainAllowed(url) {
		return fmt.Errorf("browser: navigation to %q is not in the configured domain allowlist", url)
	}
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	if err := s.page.Context(ctx).Timeout(navigationTimeout).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate: %w", err)
	}
	return s.page.Context(ctx).Timeout(navigationTimeout).WaitLoad()
}

func (m *Manager) domainAllowed(rawURL string) bool {
	host := hostOf(rawURL)
	return m.AllowedDomains[host]
}

// Snapshot returns the current page's title, URL, bounded visible text,
// and a bounded list of interactive elements, assigning each a fresh ref
// for later click-by-ref/type-by-ref calls.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	page := s.page.Context(ctx)

	info, err := page.Info()
	if err != nil {
		return Snapshot{}, fmt.Errorf("browser: page info: %w", err)
	}

	text, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	bodyText := ""
	if err == nil {
		bodyText = text.Value.Str()
	}
	if len(bodyText) > snapshotTextLimit {
		bodyText = bodyText[:snapshotTextLimit]
	}

	elements, err := page.Elements("a, button, input, textarea, select")
	if err != nil {
		return Snapshot{}, fmt.Errorf("browser: list elements: %w", err)
	}

	s.refs = make(map[string]*rod.Element)
	var interactive []Element
	for i, el := range elements {
		if i >= maxInteractive {
			break
		}
		ref := fmt.Sprintf("ref-%d", i)
		s.refs[ref] = el
		tag, _ := el.Eval(`() => this.tagName.toLowerCase()`)
		elText, _ := el.Text()
		interactive = append(interactive, Element{
			Ref:  ref,
			Tag:  tagValue(tag),
			Text: truncate(elText, 256),
		})
	}

	return Snapshot{Title: info.Title, URL: info.URL, Text: bodyText, Interactive: interactive}, nil
}

// ClickByRef clicks the element ref pointed to by a previous Snapshot.
func (m *Manager) ClickByRef(ctx context.Context, sessionID, ref string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	el, ok := s.refs[ref]
	if !ok {
		return fmt.Errorf("browser: unknown ref %q (snapshot again)", ref)
	}
	return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

// TypeByRef types text into the element ref pointed to by a previous
// Snapshot.
func (m *Manager) TypeByRef(ctx context.Context, sessionID, ref, text string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	el, ok := s.refs[ref]
	if !ok {
		return fmt.Errorf("browser: unknown ref %q (snapshot again)", ref)
	}
	return el.Context(ctx).Input(text)
}

// Screenshot returns a PNG screenshot of the current viewport.
func (m *Manager) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.page.Context(ctx).Screenshot(false, nil)
}

// Close tears down sessionID's page.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.page.Context(ctx).Close()
}

func tagValue(r *proto.RuntimeRemoteObject) string {
	if r == nil {
		return ""
	}
	return r.Value.Str()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func hostOf(rawURL string) string {
	// Minimal host extraction kept local to avoid importing net/url just
	// for this one allowlist check; callers pass well-formed URLs already
	// validated by the web.fetch/browser.navigate JSON schema.
	s := rawURL
	for _, prefix := range []string{"https://", "http://"} {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			s = s[len(prefix):]
			break
		}
	}
	for i, c := range s {
		if c == '/' || c == ':' || c == '?' {
			return s[:i]
		}
	}
	return s
}

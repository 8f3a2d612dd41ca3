// Package driver provides domain.Driver implementations: a headless-Chrome
// driver speaking to the messaging provider's web client, and an in-memory
// scripted driver for tests and diagnostics.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"wagate/internal/domain"
)

const (
	clientURL          = "https://web.whatsapp.com"
	defaultPollPeriod  = 2 * time.Second
	defaultInitTimeout = 60 * time.Second
)

// pageStateJS inspects the web client's DOM and reports where the login flow
// currently is, plus the QR payload when one is displayed.
const pageStateJS = `
(function() {
	var qrEl = document.querySelector('[data-ref]');
	if (qrEl) {
		return JSON.stringify({state: "qr", qr: qrEl.getAttribute('data-ref') || ''});
	}
	if (document.querySelector('#side')) {
		return JSON.stringify({state: "ready"});
	}
	return JSON.stringify({state: "loading"});
})()
`

// lastInboundJS returns the id and text of the newest incoming message bubble.
const lastInboundJS = `
(function() {
	var els = document.querySelectorAll('.message-in');
	if (els.length === 0) return JSON.stringify({});
	var last = els[els.length - 1];
	var row = last.closest('[data-id]');
	return JSON.stringify({
		id: row ? row.getAttribute('data-id') : '',
		body: last.innerText || ''
	});
})()
`

// WebConfig configures the Chrome-backed driver factory.
type WebConfig struct {
	ProfileDir   string // base dir; each session gets its own profile under it
	Headless     bool
	InitTimeout  time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// WebFactory builds one Chrome-backed driver per session. Each session keeps
// its own Chrome profile so the provider's auth cookies survive restarts.
type WebFactory struct {
	cfg WebConfig
}

func NewWebFactory(cfg WebConfig) *WebFactory {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".wagate", "profiles")
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaultInitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebFactory{cfg: cfg}
}

func (f *WebFactory) New(sessionID string) (domain.Driver, error) {
	profile := filepath.Join(f.cfg.ProfileDir, sessionID)
	if err := os.MkdirAll(profile, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create profile dir %s: %w", profile, err)
	}
	return &webDriver{
		sessionID:    sessionID,
		profileDir:   profile,
		headless:     f.cfg.Headless,
		initTimeout:  f.cfg.InitTimeout,
		pollInterval: f.cfg.PollInterval,
		logger:       f.cfg.Logger.With("session", sessionID),
		events:       make(chan domain.DriverEvent, 16),
	}, nil
}

// webDriver drives one browser tab logged into the provider's web client.
type webDriver struct {
	sessionID    string
	profileDir   string
	headless     bool
	initTimeout  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	events chan domain.DriverEvent

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	destroyed bool
}

func (d *webDriver) Events() <-chan domain.DriverEvent { return d.events }

// Initialize launches Chrome, opens the web client, and starts the DOM watch
// loop that translates page changes into driver events.
func (d *webDriver) Initialize(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(d.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)
	if d.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		taskCancel()
		allocCancel()
		return fmt.Errorf("driver for session %s already destroyed", d.sessionID)
	}
	d.ctx = taskCtx
	d.cancel = func() {
		taskCancel()
		allocCancel()
	}
	d.mu.Unlock()

	navCtx, cancel := context.WithTimeout(taskCtx, d.initTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(clientURL),
		chromedp.WaitReady("body"),
	); err != nil {
		return fmt.Errorf("open web client: %w", err)
	}

	go d.watch()
	d.logger.Info("browser driver started", "profile", d.profileDir)
	return nil
}

// watch polls the page and emits qr/authenticated/ready/disconnected/message
// events as the DOM changes.
func (d *webDriver) watch() {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	var lastState, lastQR, lastMsgID string
	for {
		select {
		case <-d.ctx.Done():
			d.emit(domain.DriverEvent{Type: domain.DriverDisconnected, Reason: "browser closed"})
			return
		case <-ticker.C:
		}

		state, qr, err := d.pageState()
		if err != nil {
			d.logger.Warn("page state check failed", "err", err)
			d.emit(domain.DriverEvent{Type: domain.DriverDisconnected, Reason: "page unreachable"})
			return
		}

		switch state {
		case "qr":
			if qr != "" && qr != lastQR {
				lastQR = qr
				d.emit(domain.DriverEvent{Type: domain.DriverQR, QR: qr})
			}
		case "loading":
			if lastState == "qr" {
				d.emit(domain.DriverEvent{Type: domain.DriverAuthenticated})
			}
		case "ready":
			if lastState != "ready" {
				if lastState == "qr" {
					d.emit(domain.DriverEvent{Type: domain.DriverAuthenticated})
				}
				d.emit(domain.DriverEvent{Type: domain.DriverReady})
			}
			if id, body, ok := d.lastInbound(); ok && id != lastMsgID {
				if lastMsgID != "" {
					d.emit(domain.DriverEvent{
						Type: domain.DriverMessage,
						Message: &domain.InboundMessage{
							ID:        id,
							Body:      body,
							Timestamp: time.Now(),
						},
					})
				}
				lastMsgID = id
			}
		}
		lastState = state
	}
}

func (d *webDriver) pageState() (state, qr string, err error) {
	var raw string
	evalCtx, cancel := context.WithTimeout(d.ctx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(pageStateJS, &raw)); err != nil {
		return "", "", err
	}
	var res struct {
		State string `json:"state"`
		QR    string `json:"qr"`
	}
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return "", "", fmt.Errorf("parse page state: %w", err)
	}
	return res.State, res.QR, nil
}

func (d *webDriver) lastInbound() (id, body string, ok bool) {
	var raw string
	evalCtx, cancel := context.WithTimeout(d.ctx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(lastInboundJS, &raw)); err != nil {
		return "", "", false
	}
	var res struct {
		ID   string `json:"id"`
		Body string `json:"body"`
	}
	if err := json.Unmarshal([]byte(raw), &res); err != nil || res.ID == "" {
		return "", "", false
	}
	return res.ID, res.Body, true
}

// State reports the client's current page state. An error means the browser
// itself is gone, which the health monitor treats as a failed probe.
func (d *webDriver) State(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.destroyed || d.ctx == nil {
		d.mu.Unlock()
		return "", fmt.Errorf("driver for session %s not running", d.sessionID)
	}
	d.mu.Unlock()

	state, _, err := d.pageState()
	if err != nil {
		return "", err
	}
	if state == "ready" {
		return "CONNECTED", nil
	}
	return state, nil
}

// SendMessage opens the recipient's chat and types the message.
func (d *webDriver) SendMessage(ctx context.Context, to, body string) error {
	d.mu.Lock()
	if d.destroyed || d.ctx == nil {
		d.mu.Unlock()
		return fmt.Errorf("driver for session %s not running", d.sessionID)
	}
	taskCtx := d.ctx
	d.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(taskCtx, 60*time.Second)
	defer cancel()

	input := `[contenteditable="true"][data-tab="10"]`
	err := chromedp.Run(sendCtx,
		chromedp.Navigate(fmt.Sprintf("%s/send?phone=%s", clientURL, to)),
		chromedp.WaitReady("body"),
		chromedp.WaitVisible(input, chromedp.ByQuery),
		chromedp.Sleep(1*time.Second),
		chromedp.Click(input, chromedp.ByQuery),
		chromedp.SendKeys(input, body+"\n", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("send message to %s: %w", to, err)
	}
	return nil
}

// Destroy closes the browser and the event channel. Safe to call twice.
func (d *webDriver) Destroy(ctx context.Context) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.destroyed = true
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(d.events)
	d.logger.Info("browser driver destroyed")
	return nil
}

// emit drops events once the driver is destroyed instead of panicking on the
// closed channel.
func (d *webDriver) emit(ev domain.DriverEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("driver event buffer full, event dropped", "type", ev.Type)
	}
}

package domain

import "time"

// State is the lifecycle state of a messaging session.
type State string

const (
	StateInit          State = "INIT"
	StateConnecting    State = "CONNECTING"
	StateAwaitingScan  State = "AWAITING_SCAN"
	StateAuthenticated State = "AUTHENTICATED"
	StateConnected     State = "CONNECTED"
	StateAuthFailed    State = "AUTH_FAILED"
	StateDisconnected  State = "DISCONNECTED"
	StateDestroyed     State = "DESTROYED"
)

// Terminal reports whether the state can only be left by creating a brand-new
// handle (connect or reconnect). DISCONNECTED is not terminal: it is the rest
// state awaiting a reconnect request.
func (s State) Terminal() bool {
	return s == StateAuthFailed || s == StateDestroyed
}

// Session is a tenant's single messaging account and its lifecycle state,
// independent of whether a live driver handle currently exists for it.
type Session struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	Name       string     `json:"name"`
	State      State      `json:"state"`
	QRCode     string     `json:"qrCode,omitempty"` // non-empty only in AWAITING_SCAN
	LastActive *time.Time `json:"lastActive,omitempty"`
	WebhookURL string     `json:"webhookUrl,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

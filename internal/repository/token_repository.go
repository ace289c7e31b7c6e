package repository

import (
	"sync"
)

// AlertTarget is one device that receives trade alerts.
type AlertTarget struct {
	Token        string
	Platform     string // "android" or "ios"
	RegisteredAt int64
}

// TokenRepository holds the devices subscribed to execution and protection
// alerts. In-memory only; clients re-register on app start.
type TokenRepository struct {
	mu      sync.RWMutex
	targets map[string]AlertTarget
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{targets: make(map[string]AlertTarget)}
}

// Register subscribes a device, replacing any prior registration of the
// same token.
func (r *TokenRepository) Register(token, platform string, registeredAt int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[token] = AlertTarget{Token: token, Platform: platform, RegisteredAt: registeredAt}
}

// Unregister drops a device.
func (r *TokenRepository) Unregister(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, token)
}

// Tokens lists every subscribed device token for alert fan-out.
func (r *TokenRepository) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.targets))
	for token := range r.targets {
		out = append(out, token)
	}
	return out
}

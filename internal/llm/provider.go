// Package llm provides an OpenAI-compatible client with multi-provider
// failover
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gmsas95/pillpal/internal/config"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"go.uber.org/zap"
)

// ProviderManager manages multiple LLM providers with failover
type ProviderManager struct {
	providers []ProviderConfig
	current   int
	mu        sync.RWMutex
	logger    *zap.Logger
}

// ProviderConfig holds provider configuration with priority
type ProviderConfig struct {
	Name     string
	Client   *Client
	Priority int // Lower = higher priority
	Enabled  bool
	LastErr  error
	LastUsed time.Time
}

// NewProviderManager creates a new provider manager
func NewProviderManager(logger *zap.Logger) *ProviderManager {
	return &ProviderManager{
		providers: make([]ProviderConfig, 0),
		logger:    logger,
	}
}

// NewFromConfig registers every provider that has an API key. The default
// provider is tried first.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*ProviderManager, error) {
	pm := NewProviderManager(logger)
	for name, p := range cfg.ConfiguredProviders() {
		priority := p.Priority
		if name == cfg.LLM.DefaultProvider {
			priority = -1
		}
		pm.AddProvider(name, NewClient(p), priority)
	}
	if pm.Len() == 0 {
		return nil, apperrors.ErrProviderNotConfigured
	}
	return pm, nil
}

// AddProvider adds a provider to the manager
func (pm *ProviderManager) AddProvider(name string, client *Client, priority int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.providers = append(pm.providers, ProviderConfig{
		Name:     name,
		Client:   client,
		Priority: priority,
		Enabled:  true,
	})

	sort.SliceStable(pm.providers, func(i, j int) bool {
		if pm.providers[i].Priority != pm.providers[j].Priority {
			return pm.providers[i].Priority < pm.providers[j].Priority
		}
		return pm.providers[i].Name < pm.providers[j].Name
	})
}

// Len returns the number of registered providers
func (pm *ProviderManager) Len() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.providers)
}

// ChatCompletion sends a request with automatic failover, starting at the
// last provider that answered
func (pm *ProviderManager) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	pm.mu.RLock()
	startIdx := pm.current
	count := len(pm.providers)
	pm.mu.RUnlock()

	if count == 0 {
		return nil, apperrors.ErrProviderNotConfigured
	}

	var lastErr error
	for i := 0; i < count; i++ {
		idx := (startIdx + i) % count

		pm.mu.RLock()
		provider := pm.providers[idx]
		pm.mu.RUnlock()

		if !provider.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := provider.Client.ChatCompletion(ctx, req)
		if err == nil {
			pm.mu.Lock()
			pm.current = idx
			pm.providers[idx].LastUsed = time.Now()
			pm.providers[idx].LastErr = nil
			pm.mu.Unlock()

			if i > 0 {
				pm.logger.Info("Failover successful",
					zap.String("provider", provider.Name),
					zap.Int("attempt", i+1),
				)
			}
			return resp, nil
		}

		pm.mu.Lock()
		pm.providers[idx].LastErr = err
		pm.mu.Unlock()

		lastErr = err
		pm.logger.Warn("Provider failed, trying next",
			zap.String("provider", provider.Name),
			zap.Error(err),
		)
	}

	if lastErr == nil {
		return nil, apperrors.ErrProviderNotConfigured
	}
	return nil, apperrors.Wrap(fmt.Errorf("all providers failed: %w", lastErr), apperrors.ErrProviderUnavailable.Code, "LLM provider unavailable")
}

// SimpleChat sends a simple chat with failover
func (pm *ProviderManager) SimpleChat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return firstChoice(pm.ChatCompletion(ctx, simpleRequest(systemPrompt, userMessage, false)))
}

// JSONChat sends a JSON-mode chat with failover
func (pm *ProviderManager) JSONChat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return firstChoice(pm.ChatCompletion(ctx, simpleRequest(systemPrompt, userMessage, true)))
}

// GetProviderStatus returns status of all providers
func (pm *ProviderManager) GetProviderStatus() []map[string]interface{} {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	status := make([]map[string]interface{}, 0, len(pm.providers))
	for _, p := range pm.providers {
		status = append(status, map[string]interface{}{
			"name":     p.Name,
			"enabled":  p.Enabled,
			"priority": p.Priority,
			"healthy":  p.LastErr == nil,
			"lastUsed": p.LastUsed,
		})
	}
	return status
}

// DisableProvider disables a provider by name
func (pm *ProviderManager) DisableProvider(name string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i := range pm.providers {
		if pm.providers[i].Name == name {
			pm.providers[i].Enabled = false
			break
		}
	}
}

// EnableProvider enables a provider by name
func (pm *ProviderManager) EnableProvider(name string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i := range pm.providers {
		if pm.providers[i].Name == name {
			pm.providers[i].Enabled = true
			pm.providers[i].LastErr = nil
			break
		}
	}
}

// Package interactions answers drug-drug and drug-food questions through a
// language model, caching answers by unordered pair
package interactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/security"
	"github.com/gmsas95/pillpal/internal/store"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Lookup kinds and answer sources reported in results and metrics
const (
	KindMedication = "medication"
	KindFood       = "food"

	SourceCache    = "cache"
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Completer returns the model's JSON answer for a prompt
type Completer interface {
	JSONChat(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Cache stores answers by pair key
type Cache interface {
	GetMedicationInteraction(ctx context.Context, pairKey string) (*store.MedicationInteraction, error)
	SaveMedicationInteraction(ctx context.Context, row *store.MedicationInteraction) error
	GetFoodInteraction(ctx context.Context, pairKey string) (*store.FoodInteraction, error)
	SaveFoodInteraction(ctx context.Context, row *store.FoodInteraction) error
}

// Finding is one reported interaction
type Finding struct {
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Result is the answer for one pair. An empty Interactions list means no
// known interactions.
type Result struct {
	Interactions []Finding `json:"interactions"`
	Summary      string    `json:"summary,omitempty"`
	Source       string    `json:"source"`
}

// Config holds lookup limits
type Config struct {
	RequestsPerMinute  int
	BreakerMaxFailures int
	BreakerOpenSeconds int
	MaxFoodItemLength  int
}

// Checker looks up interactions
type Checker struct {
	config    Config
	completer Completer
	cache     Cache
	breaker   *gobreaker.CircuitBreaker[string]
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewChecker creates a checker. completer may be nil when no provider is
// configured; cached answers are still served.
func NewChecker(config Config, completer Completer, cache Cache, m *metrics.Metrics, logger *zap.Logger) *Checker {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	if config.BreakerMaxFailures <= 0 {
		config.BreakerMaxFailures = 5
	}
	if config.BreakerOpenSeconds <= 0 {
		config.BreakerOpenSeconds = 60
	}

	c := &Checker{
		config:    config,
		completer: completer,
		cache:     cache,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), config.RequestsPerMinute),
		metrics:   m,
		logger:    logger,
	}

	maxFailures := uint32(config.BreakerMaxFailures)
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "interactions-llm",
		MaxRequests: 1,
		Timeout:     time.Duration(config.BreakerOpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c
}

// NormalizeName lowercases a name and collapses inner whitespace
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// PairKey identifies an unordered medication pair
func PairKey(a, b string) string {
	pair := []string{NormalizeName(a), NormalizeName(b)}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}

// FoodKey identifies a medication and food item pair
func FoodKey(medication, food string) string {
	return NormalizeName(medication) + "|" + NormalizeName(food)
}

const medicationSystemPrompt = `You are a clinical pharmacology assistant.
Report known interactions between the two medications the user names.
Answer with a JSON object only, in this shape:
{"interactions":[{"severity":"minor|moderate|major","description":"...","recommendation":"..."}],"summary":"..."}
Use an empty interactions list when none are known.`

const foodSystemPrompt = `You are a clinical pharmacology assistant.
Report known interactions between the medication and the food item the user names.
Answer with a JSON object only, in this shape:
{"interactions":[{"severity":"minor|moderate|major","description":"...","recommendation":"..."}],"summary":"..."}
Use an empty interactions list when none are known.`

// ==================== Lookups ====================

// Medications checks two medications against each other
func (c *Checker) Medications(ctx context.Context, a, b string) (*Result, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, apperrors.BadRequest("two medication names are required")
	}
	if NormalizeName(a) == NormalizeName(b) {
		return nil, apperrors.BadRequest("medications must differ")
	}
	for _, name := range []string{a, b} {
		if err := validateMedicationName(name); err != nil {
			return nil, err
		}
	}

	key := PairKey(a, b)
	if row, err := c.cache.GetMedicationInteraction(ctx, key); err != nil {
		return nil, err
	} else if row != nil {
		if res, ok := decodeCached(row.Result); ok {
			c.metrics.RecordInteractionLookup(KindMedication, SourceCache)
			return res, nil
		}
	}

	prompt := fmt.Sprintf("Medication 1: %s\nMedication 2: %s", a, b)
	res, raw, err := c.ask(ctx, KindMedication, medicationSystemPrompt, prompt)
	if err != nil || raw == nil {
		return res, err
	}

	pair := strings.SplitN(key, "|", 2)
	err = c.cache.SaveMedicationInteraction(ctx, &store.MedicationInteraction{
		PairKey:     key,
		MedicationA: pair[0],
		MedicationB: pair[1],
		Result:      raw,
	})
	if err != nil {
		c.logger.Warn("Failed to cache interaction", zap.String("pair", key), zap.Error(err))
	}
	return res, nil
}

var nameValidator = security.NewInputValidator(200)

func validateMedicationName(name string) error {
	err := nameValidator.Validate(name)
	if err == nil {
		err = security.ValidatePrompt(name)
	}
	if err != nil {
		return apperrors.BadRequest("invalid medication name: %v", err)
	}
	return nil
}

// Food checks a medication against a free-text food item
func (c *Checker) Food(ctx context.Context, medication, food string) (*Result, error) {
	medication = strings.TrimSpace(medication)
	if medication == "" {
		return nil, apperrors.BadRequest("medication name is required")
	}
	if err := validateMedicationName(medication); err != nil {
		return nil, err
	}
	food, err := security.ValidateFoodItem(food, c.config.MaxFoodItemLength)
	if err != nil {
		return nil, apperrors.BadRequest("invalid food item: %v", err)
	}

	key := FoodKey(medication, food)
	if row, err := c.cache.GetFoodInteraction(ctx, key); err != nil {
		return nil, err
	} else if row != nil {
		if res, ok := decodeCached(row.Result); ok {
			c.metrics.RecordInteractionLookup(KindFood, SourceCache)
			return res, nil
		}
	}

	prompt := fmt.Sprintf("Medication: %s\nFood item: %s", medication, food)
	res, raw, err := c.ask(ctx, KindFood, foodSystemPrompt, prompt)
	if err != nil || raw == nil {
		return res, err
	}

	err = c.cache.SaveFoodInteraction(ctx, &store.FoodInteraction{
		PairKey:    key,
		Medication: NormalizeName(medication),
		Food:       NormalizeName(food),
		Result:     raw,
	})
	if err != nil {
		c.logger.Warn("Failed to cache food interaction", zap.String("pair", key), zap.Error(err))
	}
	return res, nil
}

// ask calls the model. raw is nil when the answer was malformed and must
// not be cached.
func (c *Checker) ask(ctx context.Context, kind, systemPrompt, prompt string) (*Result, json.RawMessage, error) {
	if c.completer == nil {
		return nil, nil, apperrors.ErrProviderNotConfigured
	}
	if !c.limiter.Allow() {
		return nil, nil, apperrors.ErrRateLimited
	}

	answer, err := c.breaker.Execute(func() (string, error) {
		return c.completer.JSONChat(ctx, systemPrompt, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, apperrors.Wrap(err, apperrors.ErrProviderUnavailable.Code, "interaction lookup paused")
		}
		if errors.Is(err, apperrors.ErrProviderUnavailable) || errors.Is(err, apperrors.ErrProviderNotConfigured) {
			return nil, nil, err
		}
		return nil, nil, apperrors.Wrap(err, apperrors.ErrProviderUnavailable.Code, "interaction lookup failed")
	}

	res, raw, ok := parseAnswer(answer)
	if !ok {
		c.logger.Warn("Malformed interaction answer", zap.String("kind", kind), zap.Int("length", len(answer)))
		c.metrics.RecordInteractionLookup(kind, SourceFallback)
		return &Result{Interactions: []Finding{}, Source: SourceFallback}, nil, nil
	}

	c.metrics.RecordInteractionLookup(kind, SourceModel)
	res.Source = SourceModel
	return res, raw, nil
}

type answer struct {
	Interactions *[]Finding `json:"interactions"`
	Summary      string     `json:"summary"`
}

// parseAnswer accepts a JSON object with an interactions list, optionally
// wrapped in a markdown code fence
func parseAnswer(text string) (*Result, json.RawMessage, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var a answer
	if err := json.Unmarshal([]byte(text), &a); err != nil || a.Interactions == nil {
		return nil, nil, false
	}

	findings := make([]Finding, 0, len(*a.Interactions))
	for _, f := range *a.Interactions {
		if strings.TrimSpace(f.Description) == "" {
			continue
		}
		f.Severity = strings.ToLower(strings.TrimSpace(f.Severity))
		findings = append(findings, f)
	}

	res := &Result{Interactions: findings, Summary: a.Summary}
	raw, err := json.Marshal(struct {
		Interactions []Finding `json:"interactions"`
		Summary      string    `json:"summary,omitempty"`
	}{findings, a.Summary})
	if err != nil {
		return nil, nil, false
	}
	return res, raw, true
}

func decodeCached(raw json.RawMessage) (*Result, bool) {
	res, _, ok := parseAnswer(string(raw))
	if !ok {
		return nil, false
	}
	res.Source = SourceCache
	return res, true
}

package rules

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// TextureAdjustedNote is appended to a meal whose texture was corrected.
const TextureAdjustedNote = " (texture adjusted per guidelines)"

// Opts holds configuration options for the rule engine.
type Opts struct {
	RulesPath string  // external YAML policy; empty uses the embedded default
	Config    *Config // explicit policy, takes precedence over RulesPath
}

// Option defines a configuration option for the rule engine.
type Option func(*Opts)

// WithRulesPath loads the policy from a YAML file.
func WithRulesPath(path string) Option {
	return func(o *Opts) { o.RulesPath = path }
}

// WithConfig uses an already parsed policy.
func WithConfig(cfg *Config) Option {
	return func(o *Opts) { o.Config = cfg }
}

// Engine enforces the food policy on untrusted meal candidates.
// The policy can be swapped at runtime; every call sees one consistent snapshot.
type Engine struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewEngine creates an engine from the configured policy source.
func NewEngine(opts ...Option) (*Engine, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine{path: o.RulesPath}
	switch {
	case o.Config != nil:
		cfg := *o.Config
		cfg.applyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		e.cfg = &cfg
	case o.RulesPath != "":
		cfg, err := LoadConfig(o.RulesPath)
		if err != nil {
			return nil, err
		}
		e.cfg = cfg
	default:
		e.cfg = DefaultConfig()
	}
	slog.Debug("rules.NewEngine: policy loaded", "path", o.RulesPath, "buckets", len(e.cfg.AgeBuckets))
	return e, nil
}

// Path returns the external policy file, if any.
func (e *Engine) Path() string { return e.path }

// Reload re-reads the external policy file. On failure the current policy is kept.
func (e *Engine) Reload() error {
	if e.path == "" {
		return nil
	}
	cfg, err := LoadConfig(e.path)
	if err != nil {
		slog.Warn("Engine.Reload: keeping previous food rules", "path", e.path, "error", err)
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	slog.Info("Engine.Reload: food rules reloaded", "path", e.path)
	return nil
}

func (e *Engine) config() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Config returns a copy of the active policy.
func (e *Engine) Config() Config {
	return *e.config()
}

// AgeBucket returns the first bucket whose range contains age.
func (e *Engine) AgeBucket(ageMonths int) string {
	return ageBucket(e.config(), ageMonths)
}

func ageBucket(cfg *Config, ageMonths int) string {
	for _, b := range cfg.AgeBuckets {
		if b.MinMonths <= ageMonths && ageMonths < b.upper() {
			return b.Name
		}
	}
	return FallbackBucket
}

// AllowedTextures returns the texture whitelist for the age's bucket.
func (e *Engine) AllowedTextures(ageMonths int) []string {
	return allowedTextures(e.config(), ageMonths)
}

func allowedTextures(cfg *Config, ageMonths int) []string {
	if t, ok := cfg.TextureByAgeMonths[ageBucket(cfg, ageMonths)]; ok && len(t) > 0 {
		return append([]string(nil), t...)
	}
	return append([]string(nil), FallbackTextures...)
}

// Disclaimer returns the configured safety caveat.
func (e *Engine) Disclaimer() string {
	return e.config().Disclaimer
}

// RuleContext projects a profile for prompt building.
func (e *Engine) RuleContext(p *models.BabyProfile, ref time.Time) models.RuleContext {
	return p.RuleContext(ref)
}

// ValidateAndFilterMeals is the safety gate for generated meals.
//
// Meals mentioning an allergy, an extra exclusion, or an ingredient unsafe for
// the baby's age are dropped. Survivors with a texture outside the age's
// whitelist are kept but rewritten to the first allowed texture. Input order
// is preserved and the result is never longer than meals.
func (e *Engine) ValidateAndFilterMeals(p *models.BabyProfile, meals []models.Meal, ref time.Time, exclude ...string) []models.Meal {
	cfg := e.config()
	age := p.AgeInMonths(ref)
	allowed := allowedTextures(cfg, age)
	allowedSet := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[strings.ToLower(t)] = true
	}

	blocked := lowerNonEmpty(append(append([]string(nil), p.Allergies...), exclude...))
	noSaltSugar := age < *cfg.Safety.NoSaltSugarUntilMonths
	noHoney := age < *cfg.Safety.NoHoneyUntilMonths
	noWholeNuts := age < *cfg.Safety.NoWholeNutsUntilMonths

	safe := make([]models.Meal, 0, len(meals))
	for _, m := range meals {
		item := strings.ToLower(m.Item)
		if term, hit := containsAny(item, blocked); hit {
			slog.Info("Engine.ValidateAndFilterMeals: dropped allergen", "item", m.Item, "term", term)
			continue
		}
		if noSaltSugar {
			if term, hit := containsAny(item, cfg.Safety.SaltSugarTerms); hit {
				slog.Info("Engine.ValidateAndFilterMeals: dropped salt/sugar", "item", m.Item, "term", term, "age", age)
				continue
			}
		}
		if noHoney {
			if term, hit := containsAny(item, cfg.Safety.HoneyTerms); hit {
				slog.Info("Engine.ValidateAndFilterMeals: dropped honey", "item", m.Item, "term", term, "age", age)
				continue
			}
		}
		if noWholeNuts {
			if term, hit := containsAny(item, cfg.Safety.WholeNutTerms); hit {
				slog.Info("Engine.ValidateAndFilterMeals: dropped whole nuts", "item", m.Item, "term", term, "age", age)
				continue
			}
		}
		if !allowedSet[strings.ToLower(strings.TrimSpace(m.Texture))] {
			slog.Debug("Engine.ValidateAndFilterMeals: texture adjusted", "item", m.Item, "from", m.Texture, "to", allowed[0])
			m.Texture = allowed[0]
			m.Notes += TextureAdjustedNote
		}
		safe = append(safe, m)
	}
	return safe
}

func containsAny(s string, terms []string) (string, bool) {
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(s, t) {
			return t, true
		}
	}
	return "", false
}

func lowerNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Package rules holds the food-safety policy and the engine that enforces it.
//
// The policy is plain YAML so it can be audited and amended without touching
// code. A default copy is embedded; an external file may override it.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed food_rules.yaml
var defaultRulesYAML []byte

// Fallbacks used when the policy omits a value.
const (
	FallbackBucket                = "12+"
	DefaultNoSaltSugarUntilMonths = 12
	DefaultNoHoneyUntilMonths     = 12
	DefaultNoWholeNutsUntilMonths = 60
	openEndedMaxMonths            = 999
)

// FallbackTextures applies to buckets without a texture mapping.
var FallbackTextures = []string{"family_food", "varied"}

var (
	defaultSaltSugarTerms = []string{"salt", "sugar", "honey", "jaggery", "gur"}
	defaultHoneyTerms     = []string{"honey"}
	defaultWholeNutTerms  = []string{"whole nuts", "whole peanuts", "whole almonds", "whole cashews"}
)

// ErrInvalidConfig is returned when a policy file fails validation.
var ErrInvalidConfig = errors.New("invalid food rules")

// AgeBucket is a named age range. MinMonths is inclusive, MaxMonths exclusive.
type AgeBucket struct {
	Name      string `yaml:"name" json:"name"`
	MinMonths int    `yaml:"min_months" json:"min_months"`
	MaxMonths int    `yaml:"max_months,omitempty" json:"max_months,omitempty"`
}

// Safety holds thresholds and vocabulary for unsafe ingredients.
type Safety struct {
	NoSaltSugarUntilMonths *int     `yaml:"no_salt_sugar_until_months" json:"no_salt_sugar_until_months"`
	NoHoneyUntilMonths     *int     `yaml:"no_honey_until_months" json:"no_honey_until_months"`
	NoWholeNutsUntilMonths *int     `yaml:"no_whole_nuts_until_months" json:"no_whole_nuts_until_months"`
	SaltSugarTerms         []string `yaml:"salt_sugar_terms" json:"salt_sugar_terms"`
	HoneyTerms             []string `yaml:"honey_terms" json:"honey_terms"`
	WholeNutTerms          []string `yaml:"whole_nut_terms" json:"whole_nut_terms"`
}

// Config is the full food policy.
type Config struct {
	AgeBuckets         []AgeBucket         `yaml:"age_buckets" json:"age_buckets"`
	TextureByAgeMonths map[string][]string `yaml:"texture_by_age_months" json:"texture_by_age_months"`
	Safety             Safety              `yaml:"safety" json:"safety"`
	Disclaimer         string              `yaml:"disclaimer" json:"disclaimer"`
}

// DefaultConfig returns the embedded policy.
func DefaultConfig() *Config {
	cfg, err := ParseConfig(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded food rules are invalid: %v", err))
	}
	return cfg
}

// LoadConfig reads and validates a policy file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read food rules %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("load food rules %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML, fills defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Safety.NoSaltSugarUntilMonths == nil {
		c.Safety.NoSaltSugarUntilMonths = intPtr(DefaultNoSaltSugarUntilMonths)
	}
	if c.Safety.NoHoneyUntilMonths == nil {
		c.Safety.NoHoneyUntilMonths = intPtr(DefaultNoHoneyUntilMonths)
	}
	if c.Safety.NoWholeNutsUntilMonths == nil {
		c.Safety.NoWholeNutsUntilMonths = intPtr(DefaultNoWholeNutsUntilMonths)
	}
	if len(c.Safety.SaltSugarTerms) == 0 {
		c.Safety.SaltSugarTerms = append([]string(nil), defaultSaltSugarTerms...)
	}
	if len(c.Safety.HoneyTerms) == 0 {
		c.Safety.HoneyTerms = append([]string(nil), defaultHoneyTerms...)
	}
	if len(c.Safety.WholeNutTerms) == 0 {
		c.Safety.WholeNutTerms = append([]string(nil), defaultWholeNutTerms...)
	}
	if c.TextureByAgeMonths == nil {
		c.TextureByAgeMonths = map[string][]string{}
	}
}

// Validate checks bucket names and ranges.
func (c *Config) Validate() error {
	for i, b := range c.AgeBuckets {
		if b.Name == "" {
			return fmt.Errorf("%w: age bucket %d has no name", ErrInvalidConfig, i)
		}
		if b.MinMonths < 0 {
			return fmt.Errorf("%w: age bucket %q has negative min_months", ErrInvalidConfig, b.Name)
		}
		if b.MaxMonths != 0 && b.MaxMonths <= b.MinMonths {
			return fmt.Errorf("%w: age bucket %q has max_months <= min_months", ErrInvalidConfig, b.Name)
		}
	}
	for bucket, textures := range c.TextureByAgeMonths {
		if len(textures) == 0 {
			return fmt.Errorf("%w: bucket %q has an empty texture list", ErrInvalidConfig, bucket)
		}
	}
	return nil
}

func (b AgeBucket) upper() int {
	if b.MaxMonths == 0 {
		return openEndedMaxMonths
	}
	return b.MaxMonths
}

func intPtr(v int) *int { return &v }

package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

type TierFallback struct {
	Provider string
	Model    string
	Timeout  time.Duration
}

type Tier struct {
	Name        string
	Provider    string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Fallback    *TierFallback
}

// TierRegistry is read-only after LoadTierRegistry returns.
type TierRegistry struct {
	tiers map[string]Tier
}

// knownModels lists accepted model ids per provider. A nil entry accepts any
// model name, which is how local ollama deployments are treated.
var knownModels = map[string]map[string]bool{
	ProviderOpenAI: {
		"gpt-4o":        true,
		"gpt-4o-mini":   true,
		"gpt-4.1":       true,
		"gpt-4.1-mini":  true,
		"gpt-4-turbo":   true,
		"gpt-3.5-turbo": true,
	},
	ProviderAnthropic: {
		"claude-3-5-sonnet-latest": true,
		"claude-3-5-haiku-latest":  true,
		"claude-3-haiku-20240307":  true,
		"claude-3-opus-latest":     true,
		"claude-sonnet-4-20250514": true,
	},
	ProviderOllama: nil,
}

var providerDefaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderOllama:    "llama3.1:8b",
}

func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		domain.TierClassification: {
			Name:        domain.TierClassification,
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Timeout:     3 * time.Second,
			Temperature: 0.1,
			MaxTokens:   400,
		},
		domain.TierExpansion: {
			Name:        domain.TierExpansion,
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Timeout:     3 * time.Second,
			Temperature: 0.3,
			MaxTokens:   500,
		},
		domain.TierHypothetical: {
			Name:        domain.TierHypothetical,
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Timeout:     4 * time.Second,
			Temperature: 0.3,
			MaxTokens:   400,
		},
		domain.TierSynthesis: {
			Name:        domain.TierSynthesis,
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o",
			Timeout:     60 * time.Second,
			Temperature: 0.2,
			MaxTokens:   4000,
			Fallback: &TierFallback{
				Provider: ProviderAnthropic,
				Model:    "claude-3-5-sonnet-latest",
				Timeout:  60 * time.Second,
			},
		},
	}
}

type tierFile struct {
	Tiers map[string]tierFileEntry `yaml:"tiers"`
}

type tierFileEntry struct {
	Provider    string            `yaml:"provider"`
	Model       string            `yaml:"model"`
	TimeoutMS   *int              `yaml:"timeout_ms"`
	Temperature *float64          `yaml:"temperature"`
	MaxTokens   *int              `yaml:"max_tokens"`
	Fallback    *tierFileFallback `yaml:"fallback"`
}

type tierFileFallback struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// LoadTierRegistry layers built-in defaults, the optional YAML file at path and
// TIER_<NAME>_* environment overrides, then validates model names.
func LoadTierRegistry(path string, logger *slog.Logger) (*TierRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tiers := DefaultTiers()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tier file: %w", err)
		}
		if err := applyTierFile(tiers, raw); err != nil {
			return nil, err
		}
	}

	defaults := DefaultTiers()
	for name, tier := range tiers {
		tier = applyTierEnv(tier)
		tiers[name] = validateTier(tier, defaults[name], logger)
	}
	return &TierRegistry{tiers: tiers}, nil
}

func NewTierRegistry(tiers map[string]Tier) *TierRegistry {
	copied := make(map[string]Tier, len(tiers))
	for name, tier := range tiers {
		tier.Name = name
		copied[name] = tier
	}
	return &TierRegistry{tiers: copied}
}

func (r *TierRegistry) Resolve(name string) (Tier, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	tier, ok := r.tiers[key]
	if !ok {
		return Tier{}, domain.WrapError(domain.ErrUnknownTier, "resolve tier", fmt.Errorf("tier %q", name))
	}
	return tier, nil
}

func (r *TierRegistry) Names() []string {
	out := make([]string, 0, len(r.tiers))
	for name := range r.tiers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func applyTierFile(tiers map[string]Tier, raw []byte) error {
	var parsed tierFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse tier file: %w", err)
	}
	for rawName, entry := range parsed.Tiers {
		name := strings.ToLower(strings.TrimSpace(rawName))
		tier, ok := tiers[name]
		if !ok {
			tier = Tier{Name: name, Timeout: 5 * time.Second, MaxTokens: 500}
		}
		if entry.Provider != "" {
			tier.Provider = strings.ToLower(entry.Provider)
		}
		if entry.Model != "" {
			tier.Model = entry.Model
		}
		if entry.TimeoutMS != nil && *entry.TimeoutMS > 0 {
			tier.Timeout = time.Duration(*entry.TimeoutMS) * time.Millisecond
		}
		if entry.Temperature != nil {
			tier.Temperature = *entry.Temperature
		}
		if entry.MaxTokens != nil && *entry.MaxTokens > 0 {
			tier.MaxTokens = *entry.MaxTokens
		}
		if entry.Fallback != nil && entry.Fallback.Provider != "" {
			fallback := &TierFallback{
				Provider: strings.ToLower(entry.Fallback.Provider),
				Model:    entry.Fallback.Model,
				Timeout:  tier.Timeout,
			}
			if entry.Fallback.TimeoutMS > 0 {
				fallback.Timeout = time.Duration(entry.Fallback.TimeoutMS) * time.Millisecond
			}
			tier.Fallback = fallback
		}
		tiers[name] = tier
	}
	return nil
}

func applyTierEnv(tier Tier) Tier {
	prefix := "TIER_" + strings.ToUpper(tier.Name) + "_"

	tier.Provider = strings.ToLower(mustEnv(prefix+"PROVIDER", tier.Provider))
	tier.Model = mustEnv(prefix+"MODEL", tier.Model)
	if ms := mustEnvInt(prefix+"TIMEOUT_MS", 0); ms > 0 {
		tier.Timeout = time.Duration(ms) * time.Millisecond
	}
	tier.Temperature = mustEnvFloat(prefix+"TEMPERATURE", tier.Temperature)
	tier.MaxTokens = mustEnvInt(prefix+"MAX_TOKENS", tier.MaxTokens)

	if provider := os.Getenv(prefix + "FALLBACK_PROVIDER"); provider != "" {
		fallback := TierFallback{Timeout: tier.Timeout}
		if tier.Fallback != nil {
			fallback = *tier.Fallback
		}
		fallback.Provider = strings.ToLower(provider)
		tier.Fallback = &fallback
	}
	if tier.Fallback != nil {
		fallback := *tier.Fallback
		fallback.Model = mustEnv(prefix+"FALLBACK_MODEL", fallback.Model)
		if ms := mustEnvInt(prefix+"FALLBACK_TIMEOUT_MS", 0); ms > 0 {
			fallback.Timeout = time.Duration(ms) * time.Millisecond
		}
		tier.Fallback = &fallback
	}
	return tier
}

func validateTier(tier, def Tier, logger *slog.Logger) Tier {
	if _, ok := knownModels[tier.Provider]; !ok {
		logger.Warn("tier_unknown_provider",
			"tier", tier.Name,
			"provider", tier.Provider,
			"replacement_provider", def.Provider,
		)
		tier.Provider = def.Provider
		tier.Model = def.Model
	}
	if tier.Provider == "" {
		tier.Provider = ProviderOpenAI
	}
	if !isKnownModel(tier.Provider, tier.Model) {
		replacement := providerDefaultModels[tier.Provider]
		if def.Provider == tier.Provider && def.Model != "" {
			replacement = def.Model
		}
		logger.Warn("tier_unknown_model",
			"tier", tier.Name,
			"provider", tier.Provider,
			"model", tier.Model,
			"replacement_model", replacement,
		)
		tier.Model = replacement
	}
	if tier.Timeout <= 0 {
		tier.Timeout = 5 * time.Second
	}

	if tier.Fallback != nil {
		fallback := *tier.Fallback
		if _, ok := knownModels[fallback.Provider]; !ok {
			logger.Warn("tier_unknown_fallback_provider", "tier", tier.Name, "provider", fallback.Provider)
			tier.Fallback = nil
			return tier
		}
		if !isKnownModel(fallback.Provider, fallback.Model) {
			replacement := providerDefaultModels[fallback.Provider]
			if def.Fallback != nil && def.Fallback.Provider == fallback.Provider {
				replacement = def.Fallback.Model
			}
			logger.Warn("tier_unknown_model",
				"tier", tier.Name,
				"provider", fallback.Provider,
				"model", fallback.Model,
				"replacement_model", replacement,
			)
			fallback.Model = replacement
		}
		if fallback.Timeout <= 0 {
			fallback.Timeout = tier.Timeout
		}
		tier.Fallback = &fallback
	}
	return tier
}

func isKnownModel(provider, model string) bool {
	if strings.TrimSpace(model) == "" {
		return false
	}
	models := knownModels[provider]
	if models == nil {
		return true
	}
	return models[model]
}

// String renders a tier for CLI listings.
func (t Tier) String() string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteString(" provider=")
	b.WriteString(t.Provider)
	b.WriteString(" model=")
	b.WriteString(t.Model)
	b.WriteString(" timeout_ms=")
	b.WriteString(strconv.FormatInt(t.Timeout.Milliseconds(), 10))
	b.WriteString(" temperature=")
	b.WriteString(strconv.FormatFloat(t.Temperature, 'f', -1, 64))
	b.WriteString(" max_tokens=")
	b.WriteString(strconv.Itoa(t.MaxTokens))
	if t.Fallback != nil {
		b.WriteString(" fallback=")
		b.WriteString(t.Fallback.Provider)
		b.WriteString("/")
		b.WriteString(t.Fallback.Model)
	}
	return b.String()
}

// Package config loads and validates the process configuration. The
// resulting Config is read-only after load: decision logic takes it as a
// plain value and never reaches back into viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Persona      PersonaConfig
	Continuation ContinuationConfig
	Gate         GateConfig
	Providers    ProvidersConfig
	Moderation   ModerationConfig
	Memory       MemoryConfig
}

type PersonaConfig struct {
	Name             string
	Aliases          []string
	DirectVerbs      []string
	SystemPrompt     string
	ShortAckMaxChars int
	BanterMaxChars   int
	PromptCharBudget int
}

type ContinuationConfig struct {
	MaxIntervening int
	StreakCap      int
	OtherNames     []string
	MusicKeywords  []string
	DeicticPhrases []string
}

type GateConfig struct {
	Disabled       bool
	DryRun         bool
	MinInterval    time.Duration
	Cooldowns      map[string]time.Duration
	EmoteAllowList []string
}

type BackendConfig struct {
	Name     string
	Kind     string // openai-compatible or anthropic
	Endpoint string
	Model    string
	APIKey   string
	Weight   int
	Primary  bool
}

type ProvidersConfig struct {
	Mode      string
	Fixed     string
	Overrides map[string]string
	Timeout   time.Duration
	Retry     bool
	Backends  []BackendConfig
}

type ModerationConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string
}

type MemoryConfig struct {
	DBPath      string
	AllowedKeys []string
	MaxChars    int
	MaxItems    int
}

func SetDefaults() {
	viper.SetDefault("persona.name", "roonie")
	viper.SetDefault("persona.short_ack_max_chars", 48)
	viper.SetDefault("persona.banter_max_chars", 80)
	viper.SetDefault("persona.prompt_char_budget", 2000)

	viper.SetDefault("continuation.max_intervening", 3)
	viper.SetDefault("continuation.streak_cap", 4)

	viper.SetDefault("gate.disabled", false)
	viper.SetDefault("gate.dry_run", false)
	viper.SetDefault("gate.min_interval", 6*time.Second)
	viper.SetDefault("gate.cooldowns.event_follow", 45*time.Second)
	viper.SetDefault("gate.cooldowns.event_sub", 20*time.Second)
	viper.SetDefault("gate.cooldowns.event_cheer", 20*time.Second)
	viper.SetDefault("gate.cooldowns.event_raid", 30*time.Second)
	viper.SetDefault("gate.cooldowns.greeting", 15*time.Second)

	viper.SetDefault("providers.mode", "weighted")
	viper.SetDefault("providers.timeout", 20*time.Second)
	viper.SetDefault("providers.retry", true)

	viper.SetDefault("moderation.enabled", true)
	viper.SetDefault("moderation.endpoint", "https://api.openai.com")

	viper.SetDefault("memory.max_chars", 900)
	viper.SetDefault("memory.max_items", 10)
}

// FromViper assembles the configuration from whatever viper has loaded
// (file, environment, flags) and validates it.
func FromViper() (Config, error) {
	cfg := Config{
		Persona: PersonaConfig{
			Name:             viper.GetString("persona.name"),
			Aliases:          viper.GetStringSlice("persona.aliases"),
			DirectVerbs:      viper.GetStringSlice("persona.direct_verbs"),
			SystemPrompt:     viper.GetString("persona.system_prompt"),
			ShortAckMaxChars: viper.GetInt("persona.short_ack_max_chars"),
			BanterMaxChars:   viper.GetInt("persona.banter_max_chars"),
			PromptCharBudget: viper.GetInt("persona.prompt_char_budget"),
		},
		Continuation: ContinuationConfig{
			MaxIntervening: viper.GetInt("continuation.max_intervening"),
			StreakCap:      viper.GetInt("continuation.streak_cap"),
			OtherNames:     viper.GetStringSlice("continuation.other_names"),
			MusicKeywords:  viper.GetStringSlice("continuation.music_keywords"),
			DeicticPhrases: viper.GetStringSlice("continuation.deictic_phrases"),
		},
		Gate: GateConfig{
			Disabled:       viper.GetBool("gate.disabled"),
			DryRun:         viper.GetBool("gate.dry_run"),
			MinInterval:    viper.GetDuration("gate.min_interval"),
			Cooldowns:      cooldownsFromViper(),
			EmoteAllowList: viper.GetStringSlice("gate.emote_allow_list"),
		},
		Providers: ProvidersConfig{
			Mode:      viper.GetString("providers.mode"),
			Fixed:     viper.GetString("providers.fixed"),
			Overrides: upperKeys(viper.GetStringMapString("providers.overrides")),
			Timeout:   viper.GetDuration("providers.timeout"),
			Retry:     viper.GetBool("providers.retry"),
			Backends:  backendsFromViper(),
		},
		Moderation: ModerationConfig{
			Enabled:  viper.GetBool("moderation.enabled"),
			Endpoint: viper.GetString("moderation.endpoint"),
			APIKey:   viper.GetString("moderation.api_key"),
		},
		Memory: MemoryConfig{
			DBPath:      viper.GetString("memory.db_path"),
			AllowedKeys: viper.GetStringSlice("memory.allowed_keys"),
			MaxChars:    viper.GetInt("memory.max_chars"),
			MaxItems:    viper.GetInt("memory.max_items"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cooldownsFromViper() map[string]time.Duration {
	raw := viper.GetStringMapString("gate.cooldowns")
	out := make(map[string]time.Duration, len(raw))
	for key, value := range raw {
		d, err := time.ParseDuration(value)
		if err != nil {
			continue
		}
		out[strings.ToUpper(key)] = d
	}
	return out
}

func backendsFromViper() []BackendConfig {
	var out []BackendConfig
	var raw []map[string]any
	if err := viper.UnmarshalKey("providers.backends", &raw); err != nil {
		return nil
	}
	for _, entry := range raw {
		b := BackendConfig{
			Name:     asString(entry["name"]),
			Kind:     asString(entry["kind"]),
			Endpoint: asString(entry["endpoint"]),
			Model:    asString(entry["model"]),
			APIKey:   asString(entry["api_key"]),
			Primary:  asBool(entry["primary"]),
			Weight:   asInt(entry["weight"]),
		}
		out = append(out, b)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Persona.Name) == "" {
		return fmt.Errorf("config: persona.name is required")
	}
	switch c.Providers.Mode {
	case "fixed", "uniform", "weighted":
	default:
		return fmt.Errorf("config: unknown providers.mode %q", c.Providers.Mode)
	}
	if c.Providers.Mode == "fixed" && strings.TrimSpace(c.Providers.Fixed) == "" {
		return fmt.Errorf("config: providers.fixed is required in fixed mode")
	}
	names := map[string]bool{}
	primaries := 0
	for i, b := range c.Providers.Backends {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("config: providers.backends[%d] has no name", i)
		}
		if names[b.Name] {
			return fmt.Errorf("config: duplicate backend %q", b.Name)
		}
		names[b.Name] = true
		switch b.Kind {
		case "", "openai", "openai-compatible", "anthropic":
		default:
			return fmt.Errorf("config: backend %q has unknown kind %q", b.Name, b.Kind)
		}
		if b.Weight < 0 {
			return fmt.Errorf("config: backend %q has negative weight", b.Name)
		}
		if b.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		return fmt.Errorf("config: at most one backend may be primary")
	}
	if c.Providers.Mode == "fixed" && len(c.Providers.Backends) > 0 && !names[c.Providers.Fixed] {
		return fmt.Errorf("config: providers.fixed %q is not a configured backend", c.Providers.Fixed)
	}
	for category, name := range c.Providers.Overrides {
		if len(c.Providers.Backends) > 0 && !names[name] {
			return fmt.Errorf("config: override for %s names unknown backend %q", category, name)
		}
	}
	if c.Gate.MinInterval < 0 {
		return fmt.Errorf("config: gate.min_interval must not be negative")
	}
	if c.Memory.MaxChars < 0 || c.Memory.MaxItems < 0 {
		return fmt.Errorf("config: memory caps must not be negative")
	}
	return nil
}

func upperKeys(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

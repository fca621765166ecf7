// Package config implements explain.md's typed configuration: YAML loading
// with environment-variable overrides (teacher pattern, see
// theRebelliousNerd-codenerd/internal/config/config.go), normalization,
// canonical hashing, cache-key derivation, and the regeneration-impact
// planner (spec §4.2).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Th0rgal/explain.md-sub002/internal/canon"
)

// AudienceLevel is the target reader sophistication.
type AudienceLevel string

const (
	AudienceNovice       AudienceLevel = "novice"
	AudienceIntermediate AudienceLevel = "intermediate"
	AudienceExpert       AudienceLevel = "expert"
)

// ReadingLevel is the target reading-grade dial.
type ReadingLevel string

const (
	ReadingGrade6     ReadingLevel = "grade6"
	ReadingGrade9     ReadingLevel = "grade9"
	ReadingGrade12    ReadingLevel = "grade12"
	ReadingUndergrad  ReadingLevel = "undergrad"
	ReadingGraduate   ReadingLevel = "graduate"
)

// ProofDetailMode controls how much proof machinery shows through summaries.
type ProofDetailMode string

const (
	ProofDetailMinimal ProofDetailMode = "minimal"
	ProofDetailBalanced ProofDetailMode = "balanced"
	ProofDetailFormal  ProofDetailMode = "formal"
)

// EntailmentMode is the pedagogical strictness dial.
type EntailmentMode string

const (
	EntailmentLenient EntailmentMode = "lenient"
	EntailmentStrict  EntailmentMode = "strict"
)

// RegenerationScope is the minimum rebuild category a config change requires.
type RegenerationScope string

const (
	RegenerationNone    RegenerationScope = "none"
	RegenerationPartial RegenerationScope = "partial"
	RegenerationFull    RegenerationScope = "full"
)

// scopeRank orders RegenerationScope values for max-over-changed-fields.
var scopeRank = map[RegenerationScope]int{
	RegenerationNone:    0,
	RegenerationPartial: 1,
	RegenerationFull:    2,
}

// ModelProviderConfig describes the summarizer LM endpoint.
type ModelProviderConfig struct {
	Endpoint         string  `yaml:"endpoint"`
	Model            string  `yaml:"model"`
	APIKeyEnvVar     string  `yaml:"api_key_env_var"`
	TimeoutMs        int     `yaml:"timeout_ms"`
	MaxRetries       int     `yaml:"max_retries"`
	RetryBaseDelayMs int     `yaml:"retry_base_delay_ms"`
	Temperature      float64 `yaml:"temperature"`
	MaxOutputTokens  int     `yaml:"max_output_tokens"`
}

// LoggingConfig mirrors the fields internal/logging needs; kept separate
// from logging.loggingConfig (teacher's own circular-avoidance pattern).
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// Config is explain.md's full typed configuration surface (spec §4.2).
type Config struct {
	Language              string               `yaml:"language"`
	AudienceLevel         AudienceLevel        `yaml:"audience_level"`
	ReadingLevelTarget    ReadingLevel         `yaml:"reading_level_target"`
	ComplexityLevel       int                  `yaml:"complexity_level"`
	ComplexityBandWidth   int                  `yaml:"complexity_band_width"`
	TermIntroductionBudget int                 `yaml:"term_introduction_budget"`
	MaxChildrenPerParent  int                  `yaml:"max_children_per_parent"`
	ProofDetailMode       ProofDetailMode      `yaml:"proof_detail_mode"`
	EntailmentMode        EntailmentMode       `yaml:"entailment_mode"`
	ModelProvider         ModelProviderConfig  `yaml:"model_provider"`
	Logging               LoggingConfig        `yaml:"logging"`
}

// supportedBaseLanguages is the set of base language tags explain.md ships
// explanation vocabulary for; anything else falls back to "en".
var supportedBaseLanguages = map[string]bool{
	"en": true,
	"es": true,
	"fr": true,
	"de": true,
	"ja": true,
	"zh": true,
}

// DefaultConfig returns spec §4.2's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Language:               "en",
		AudienceLevel:          AudienceIntermediate,
		ReadingLevelTarget:     ReadingGrade9,
		ComplexityLevel:        3,
		ComplexityBandWidth:    1,
		TermIntroductionBudget: 2,
		MaxChildrenPerParent:   5,
		ProofDetailMode:        ProofDetailBalanced,
		EntailmentMode:         EntailmentLenient,
		ModelProvider: ModelProviderConfig{
			Endpoint:         "",
			Model:            "",
			APIKeyEnvVar:     "EXPLAIN_MD_LIVE_RPC_API_KEY",
			TimeoutMs:        30000,
			MaxRetries:       3,
			RetryBaseDelayMs: 500,
			Temperature:      0.2,
			MaxOutputTokens:  2048,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads a YAML config file, falling back to DefaultConfig for a
// missing file, then applies environment overrides and normalizes.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	Normalize(cfg)
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides checks explicit env vars in priority order, mirroring
// the teacher's multi-provider API key detection in applyEnvOverrides().
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXPLAIN_MD_LANGUAGE"); v != "" {
		cfg.Language = v
	}
	if v := os.Getenv("EXPLAIN_MD_AUDIENCE_LEVEL"); v != "" {
		cfg.AudienceLevel = AudienceLevel(v)
	}
	if v := os.Getenv("EXPLAIN_MD_MODEL_ENDPOINT"); v != "" {
		cfg.ModelProvider.Endpoint = v
	}
	if v := os.Getenv("EXPLAIN_MD_MODEL_NAME"); v != "" {
		cfg.ModelProvider.Model = v
	}
	if v := os.Getenv("EXPLAIN_MD_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ModelProvider.TimeoutMs = n
		}
	}
	if v := os.Getenv("EXPLAIN_MD_DEBUG"); v != "" {
		cfg.Logging.DebugMode = v == "1" || strings.EqualFold(v, "true")
	}
	// Provider API key env var names checked in priority order, the first
	// one actually set in the environment wins, mirroring the teacher's
	// multi-provider detection order (ZAI, Anthropic, OpenAI, Gemini, xAI,
	// OpenRouter) but scoped to this repo's single configured provider.
	for _, candidate := range []string{
		"EXPLAIN_MD_LIVE_RPC_API_KEY",
		"ANTHROPIC_API_KEY",
		"OPENAI_API_KEY",
		"GEMINI_API_KEY",
	} {
		if os.Getenv(candidate) != "" {
			cfg.ModelProvider.APIKeyEnvVar = candidate
			break
		}
	}
}

// Normalize trims/lower-cases string enums, rejects out-of-range numerics by
// clamping them back into range, and resolves the language tag. Normalize
// is idempotent: calling it twice produces the same result as calling it
// once.
func Normalize(cfg *Config) {
	cfg.Language = ResolveExplanationLanguage(cfg.Language)
	cfg.AudienceLevel = AudienceLevel(strings.ToLower(strings.TrimSpace(string(cfg.AudienceLevel))))
	if !isValidAudience(cfg.AudienceLevel) {
		cfg.AudienceLevel = AudienceIntermediate
	}
	cfg.ReadingLevelTarget = ReadingLevel(strings.ToLower(strings.TrimSpace(string(cfg.ReadingLevelTarget))))
	if !isValidReadingLevel(cfg.ReadingLevelTarget) {
		cfg.ReadingLevelTarget = ReadingGrade9
	}
	cfg.ProofDetailMode = ProofDetailMode(strings.ToLower(strings.TrimSpace(string(cfg.ProofDetailMode))))
	if !isValidProofDetail(cfg.ProofDetailMode) {
		cfg.ProofDetailMode = ProofDetailBalanced
	}
	cfg.EntailmentMode = EntailmentMode(strings.ToLower(strings.TrimSpace(string(cfg.EntailmentMode))))
	if !isValidEntailment(cfg.EntailmentMode) {
		cfg.EntailmentMode = EntailmentLenient
	}

	cfg.ComplexityLevel = clamp(cfg.ComplexityLevel, 1, 5)
	cfg.ComplexityBandWidth = clamp(cfg.ComplexityBandWidth, 0, 4)
	if cfg.TermIntroductionBudget < 0 {
		cfg.TermIntroductionBudget = 0
	}
	if cfg.MaxChildrenPerParent < 2 {
		cfg.MaxChildrenPerParent = 2
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isValidAudience(a AudienceLevel) bool {
	switch a {
	case AudienceNovice, AudienceIntermediate, AudienceExpert:
		return true
	}
	return false
}

func isValidReadingLevel(r ReadingLevel) bool {
	switch r {
	case ReadingGrade6, ReadingGrade9, ReadingGrade12, ReadingUndergrad, ReadingGraduate:
		return true
	}
	return false
}

func isValidProofDetail(p ProofDetailMode) bool {
	switch p {
	case ProofDetailMinimal, ProofDetailBalanced, ProofDetailFormal:
		return true
	}
	return false
}

func isValidEntailment(e EntailmentMode) bool {
	switch e {
	case EntailmentLenient, EntailmentStrict:
		return true
	}
	return false
}

// ResolveExplanationLanguage normalizes a language tag to lower-case with a
// dash delimiter; a region-qualified tag ("xx-YY") falls back to its
// supported base ("xx"), and an unsupported base falls back to "en".
func ResolveExplanationLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, "_", "-")
	if tag == "" {
		return "en"
	}
	base := tag
	if idx := strings.Index(tag, "-"); idx >= 0 {
		base = tag[:idx]
	}
	if supportedBaseLanguages[base] {
		return base
	}
	return "en"
}

// CanonicalBytes renders the config per spec §4.1's canonicalization
// discipline, for use by computeConfigHash. Fields not bearing on
// summarization or topology (file paths, logging) are excluded: only the
// fields spec §4.2 enumerates as the configuration surface are hashed.
func (c *Config) CanonicalBytes() []byte {
	b := canon.NewBuilder()
	b.Field("audience_level", string(c.AudienceLevel))
	b.Field("complexity_band_width", strconv.Itoa(c.ComplexityBandWidth))
	b.Field("complexity_level", strconv.Itoa(c.ComplexityLevel))
	b.Field("entailment_mode", string(c.EntailmentMode))
	b.Field("language", c.Language)
	b.Field("max_children_per_parent", strconv.Itoa(c.MaxChildrenPerParent))
	b.Field("model_provider.endpoint", canon.QuoteString(c.ModelProvider.Endpoint))
	b.Field("model_provider.max_output_tokens", strconv.Itoa(c.ModelProvider.MaxOutputTokens))
	b.Field("model_provider.max_retries", strconv.Itoa(c.ModelProvider.MaxRetries))
	b.Field("model_provider.model", canon.QuoteString(c.ModelProvider.Model))
	b.Field("model_provider.retry_base_delay_ms", strconv.Itoa(c.ModelProvider.RetryBaseDelayMs))
	b.Field("model_provider.temperature", strconv.FormatFloat(c.ModelProvider.Temperature, 'f', -1, 64))
	b.Field("model_provider.timeout_ms", strconv.Itoa(c.ModelProvider.TimeoutMs))
	b.Field("proof_detail_mode", string(c.ProofDetailMode))
	b.Field("reading_level_target", string(c.ReadingLevelTarget))
	b.Field("term_introduction_budget", strconv.Itoa(c.TermIntroductionBudget))
	return b.Bytes()
}

// ComputeConfigHash canonically serializes cfg and hashes it.
func ComputeConfigHash(cfg *Config) string {
	return canon.Hash(cfg)
}

// CacheKey returns the tree cache key "<leaf-set-hash>:<config-hash>:<language>:<audience>".
func CacheKey(leafSetHash, configHash string, cfg *Config) string {
	return fmt.Sprintf("%s:%s:%s:%s", leafSetHash, configHash, cfg.Language, cfg.AudienceLevel)
}

// structuralFields affect tree topology.
var structuralFields = map[string]bool{
	"max_children_per_parent":  true,
	"complexity_level":         true,
	"complexity_band_width":    true,
	"term_introduction_budget": true,
	"entailment_mode":          true,
	"proof_detail_mode":        true,
	"audience_level":           true,
}

// semanticFields affect summaries but not topology.
var semanticFields = map[string]bool{
	"language":               true,
	"reading_level_target":   true,
	"model_provider.model":   true,
	"model_provider.endpoint": true,
}

// PlanRegeneration classifies changed fields between old and new configs and
// returns the maximum-severity RegenerationScope required (spec §4.2).
// cosmetic-only changes (token budgets, temperature) yield "partial".
func PlanRegeneration(oldCfg, newCfg *Config) RegenerationScope {
	changed := diffFields(oldCfg, newCfg)
	if len(changed) == 0 {
		return RegenerationNone
	}

	scope := RegenerationNone
	raise := func(s RegenerationScope) {
		if scopeRank[s] > scopeRank[scope] {
			scope = s
		}
	}

	for _, field := range changed {
		switch {
		case structuralFields[field]:
			raise(RegenerationFull)
		case semanticFields[field]:
			raise(RegenerationPartial)
		default:
			raise(RegenerationPartial)
		}
	}
	return scope
}

// diffFields returns the sorted set of canonical field names whose rendered
// value differs between old and new. It compares the same field set that
// CanonicalBytes hashes (string fields unquoted); logging/debug fields are
// in neither, since they never bear on regeneration scope.
func diffFields(oldCfg, newCfg *Config) []string {
	oldFields := fieldMap(oldCfg)
	newFields := fieldMap(newCfg)

	changedSet := map[string]bool{}
	for k, v := range oldFields {
		if newFields[k] != v {
			changedSet[k] = true
		}
	}
	for k, v := range newFields {
		if oldFields[k] != v {
			changedSet[k] = true
		}
	}
	return canon.SortedMapKeys(changedSet)
}

func fieldMap(cfg *Config) map[string]string {
	return map[string]string{
		"audience_level":                   string(cfg.AudienceLevel),
		"complexity_band_width":            strconv.Itoa(cfg.ComplexityBandWidth),
		"complexity_level":                 strconv.Itoa(cfg.ComplexityLevel),
		"entailment_mode":                  string(cfg.EntailmentMode),
		"language":                         cfg.Language,
		"max_children_per_parent":          strconv.Itoa(cfg.MaxChildrenPerParent),
		"model_provider.endpoint":          cfg.ModelProvider.Endpoint,
		"model_provider.max_output_tokens": strconv.Itoa(cfg.ModelProvider.MaxOutputTokens),
		"model_provider.max_retries":       strconv.Itoa(cfg.ModelProvider.MaxRetries),
		"model_provider.model":             cfg.ModelProvider.Model,
		"model_provider.retry_base_delay_ms": strconv.Itoa(cfg.ModelProvider.RetryBaseDelayMs),
		"model_provider.temperature":       strconv.FormatFloat(cfg.ModelProvider.Temperature, 'f', -1, 64),
		"model_provider.timeout_ms":        strconv.Itoa(cfg.ModelProvider.TimeoutMs),
		"proof_detail_mode":                string(cfg.ProofDetailMode),
		"reading_level_target":             string(cfg.ReadingLevelTarget),
		"term_introduction_budget":         strconv.Itoa(cfg.TermIntroductionBudget),
	}
}

// DurationOf returns a duration derived from a millisecond config field,
// mirroring the teacher's duration-parsing config getters.
func DurationOf(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/photo-dedup/internal/constants"
)

// ThresholdAuto selects the default threshold for the configured hash size.
const ThresholdAuto = -1

type Config struct {
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Processing  ProcessingConfig  `yaml:"processing"`
	Input       InputConfig       `yaml:"input"`
	Output      OutputConfig      `yaml:"output"`
	Cache       CacheConfig       `yaml:"cache"`
}

type FingerprintConfig struct {
	Algorithm string `yaml:"algorithm" validate:"oneof=dhash phash"`
	HashSize  int    `yaml:"hash_size" validate:"min=2,max=64"`
	Threshold int    `yaml:"threshold" validate:"min=-1"` // ThresholdAuto picks a default scaled to the hash size
	Index     string `yaml:"index" validate:"oneof=exact hnsw"`
}

type ProcessingConfig struct {
	Workers     int  `yaml:"workers" validate:"min=1"`
	RetryLimit  int  `yaml:"retry_limit" validate:"min=1"`
	MemoryCache bool `yaml:"memory_cache"`
}

type InputConfig struct {
	Extensions []string `yaml:"extensions" validate:"min=1,dive,required"`
	Recursive  bool     `yaml:"recursive"`
	ByFolder   bool     `yaml:"by_folder"`
}

type OutputConfig struct {
	Dir           string `yaml:"dir"`
	DuplicatesDir string `yaml:"duplicates_dir"`
	Layout        string `yaml:"layout" validate:"oneof=flat preserve-structure own-folder"`
	Move          bool   `yaml:"move"`
	Policy        string `yaml:"policy" validate:"oneof=first largest resolution"`
}

type CacheConfig struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// ConfigurationError reports an invalid setting. It is raised before any work starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// envInt reads an environment variable and parses it as a non-negative integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// SplitExtensions splits a space or comma separated extension list and
// normalises each entry to lower case without a leading dot.
func SplitExtensions(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, constants.CacheFileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Fingerprint: FingerprintConfig{
			Algorithm: constants.DefaultAlgorithm,
			HashSize:  constants.DefaultHashSize,
			Threshold: ThresholdAuto,
			Index:     constants.DefaultIndex,
		},
		Processing: ProcessingConfig{
			Workers:    runtime.NumCPU(),
			RetryLimit: constants.DefaultRetryLimit,
		},
		Input: InputConfig{
			Extensions: SplitExtensions(constants.DefaultExtensions),
		},
		Output: OutputConfig{
			Layout: constants.DefaultLayout,
			Policy: constants.DefaultPolicy,
		},
		Cache: CacheConfig{
			Path: defaultCachePath(),
		},
	}
}

// Load returns the defaults overridden by DEDUP_* environment variables.
func Load() *Config {
	cfg := Default()

	cfg.Fingerprint.Algorithm = envString("DEDUP_ALGORITHM", cfg.Fingerprint.Algorithm)
	cfg.Fingerprint.HashSize = envInt("DEDUP_HASH_SIZE", cfg.Fingerprint.HashSize)
	cfg.Fingerprint.Threshold = envInt("DEDUP_THRESHOLD", cfg.Fingerprint.Threshold)
	cfg.Fingerprint.Index = envString("DEDUP_INDEX", cfg.Fingerprint.Index)

	cfg.Processing.Workers = envInt("DEDUP_WORKERS", cfg.Processing.Workers)
	cfg.Processing.RetryLimit = envInt("DEDUP_RETRY_LIMIT", cfg.Processing.RetryLimit)
	cfg.Processing.MemoryCache = envBool("DEDUP_MEM_CACHE", cfg.Processing.MemoryCache)

	if s := os.Getenv("DEDUP_EXTENSIONS"); s != "" {
		cfg.Input.Extensions = SplitExtensions(s)
	}

	cfg.Output.DuplicatesDir = envString("DEDUP_DUPLICATES_DIR", cfg.Output.DuplicatesDir)
	cfg.Output.Policy = envString("DEDUP_POLICY", cfg.Output.Policy)

	if p := os.Getenv("DEDUP_CACHE_PATH"); p != "" {
		cfg.Cache.Path = p
		cfg.Cache.Enabled = true
	}

	return cfg
}

// LoadFile overlays a YAML profile onto cfg. Keys absent from the file keep their value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return &ConfigurationError{Field: filepath.Base(path), Reason: err.Error()}
	}
	cfg.Input.Extensions = SplitExtensions(strings.Join(cfg.Input.Extensions, " "))
	return nil
}

// Bits returns the fingerprint width in bits.
func (c *Config) Bits() int {
	return c.Fingerprint.HashSize * c.Fingerprint.HashSize
}

// EffectiveThreshold resolves ThresholdAuto.
func (c *Config) EffectiveThreshold() int {
	if c.Fingerprint.Threshold == ThresholdAuto {
		return constants.DefaultThreshold(c.Fingerprint.HashSize)
	}
	return c.Fingerprint.Threshold
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report yaml key names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("yaml")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
	})
	return validate
}

// Validate checks every setting and returns the first problem as *ConfigurationError.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			return &ConfigurationError{Field: field, Reason: describe(fe)}
		}
		return &ConfigurationError{Field: "config", Reason: err.Error()}
	}

	threshold := c.EffectiveThreshold()
	if bits := c.Bits(); threshold >= bits {
		return &ConfigurationError{
			Field:  "fingerprint.threshold",
			Reason: fmt.Sprintf("%d would merge every image (fingerprints have %d bits)", threshold, bits),
		}
	}

	if c.Output.Dir != "" && c.Output.DuplicatesDir != "" && Within(c.Output.DuplicatesDir, c.Output.Dir) {
		return &ConfigurationError{
			Field:  "output.duplicates_dir",
			Reason: "must not be inside the output directory",
		}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "required":
		return "must not be empty"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// Within reports whether path equals root or lies below it.
func Within(path, root string) bool {
	p, err1 := filepath.Abs(path)
	r, err2 := filepath.Abs(root)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(r, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

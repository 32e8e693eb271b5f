package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/tagclust/internal/ingest"
	"github.com/hurttlocker/tagclust/internal/logging"
)

var ErrInvalidValue = errors.New("invalid configuration value")

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the config file path and CLI overrides keyed by
// config key ("clustering.k_min"). Only flags the user actually set should
// be present.
type ResolveOptions struct {
	ConfigPath string
	CLI        map[string]string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath    ResolvedValue `json:"db_path"`
	OutputDir ResolvedValue `json:"output_dir"`
	XLSX      ResolvedValue `json:"xlsx"`

	Metric       ResolvedValue `json:"metric"`
	Weighted     ResolvedValue `json:"weighted"`
	KMin         ResolvedValue `json:"k_min"`
	KMax         ResolvedValue `json:"k_max"`
	TopN         ResolvedValue `json:"top_n"`
	SweepSeed    ResolvedValue `json:"sweep_seed"`
	LabelSeed    ResolvedValue `json:"label_seed"`
	SweepInits   ResolvedValue `json:"sweep_inits"`
	LabelInits   ResolvedValue `json:"label_inits"`
	InertiaPlots ResolvedValue `json:"inertia_plots"`

	PostColumn           ResolvedValue `json:"post_column"`
	TagColumn            ResolvedValue `json:"tag_column"`
	ClassificationColumn ResolvedValue `json:"classification_column"`

	LogLevel  ResolvedValue `json:"log_level"`
	LogFormat ResolvedValue `json:"log_format"`
}

type fileConfig struct {
	DBPath     string `yaml:"db_path"`
	OutputDir  string `yaml:"output_dir"`
	XLSX       string `yaml:"xlsx"`
	Clustering struct {
		Metric       string `yaml:"metric"`
		Weighted     string `yaml:"weighted"`
		KMin         string `yaml:"k_min"`
		KMax         string `yaml:"k_max"`
		TopN         string `yaml:"top_n"`
		SweepSeed    string `yaml:"sweep_seed"`
		LabelSeed    string `yaml:"label_seed"`
		SweepInits   string `yaml:"sweep_inits"`
		LabelInits   string `yaml:"label_inits"`
		InertiaPlots string `yaml:"inertia_plots"`
	} `yaml:"clustering"`
	Columns struct {
		Post           string `yaml:"post"`
		Tag            string `yaml:"tag"`
		Classification string `yaml:"classification"`
	} `yaml:"columns"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// setting binds one key to its destination, file value, env var and default.
type setting struct {
	key  string
	dst  *ResolvedValue
	file string
	env  string
	def  string
}

func (r *ResolvedConfig) settings(cfg *fileConfig) []setting {
	if cfg == nil {
		cfg = &fileConfig{}
	}
	return []setting{
		{"db_path", &r.DBPath, cfg.DBPath, "TAGCLUST_DB", "~/.tagclust/tagclust.db"},
		{"output_dir", &r.OutputDir, cfg.OutputDir, "TAGCLUST_OUTPUT_DIR", "."},
		{"xlsx", &r.XLSX, cfg.XLSX, "TAGCLUST_XLSX", "true"},
		{"clustering.metric", &r.Metric, cfg.Clustering.Metric, "TAGCLUST_METRIC", "1"},
		{"clustering.weighted", &r.Weighted, cfg.Clustering.Weighted, "TAGCLUST_WEIGHTED", "false"},
		{"clustering.k_min", &r.KMin, cfg.Clustering.KMin, "TAGCLUST_K_MIN", "2"},
		{"clustering.k_max", &r.KMax, cfg.Clustering.KMax, "TAGCLUST_K_MAX", "10"},
		{"clustering.top_n", &r.TopN, cfg.Clustering.TopN, "TAGCLUST_TOP_N", "3"},
		{"clustering.sweep_seed", &r.SweepSeed, cfg.Clustering.SweepSeed, "TAGCLUST_SWEEP_SEED", "11"},
		{"clustering.label_seed", &r.LabelSeed, cfg.Clustering.LabelSeed, "TAGCLUST_LABEL_SEED", ""},
		{"clustering.sweep_inits", &r.SweepInits, cfg.Clustering.SweepInits, "TAGCLUST_SWEEP_INITS", "20"},
		{"clustering.label_inits", &r.LabelInits, cfg.Clustering.LabelInits, "TAGCLUST_LABEL_INITS", "100"},
		{"clustering.inertia_plots", &r.InertiaPlots, cfg.Clustering.InertiaPlots, "TAGCLUST_INERTIA_PLOTS", "false"},
		{"columns.post", &r.PostColumn, cfg.Columns.Post, "TAGCLUST_POST_COLUMN", ingest.DefaultPostColumn},
		{"columns.tag", &r.TagColumn, cfg.Columns.Tag, "TAGCLUST_TAG_COLUMN", ingest.DefaultTagColumn},
		{"columns.classification", &r.ClassificationColumn, cfg.Columns.Classification, "TAGCLUST_CLASSIFICATION_COLUMN", ingest.DefaultClassificationColumn},
		{"log.level", &r.LogLevel, cfg.Log.Level, "TAGCLUST_LOG_LEVEL", "info"},
		{"log.format", &r.LogFormat, cfg.Log.Format, "TAGCLUST_LOG_FORMAT", "console"},
	}
}

// Keys lists every configuration key in display order.
func Keys() []string {
	var r ResolvedConfig
	var out []string
	for _, s := range r.settings(nil) {
		out = append(out, s.key)
	}
	return out
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tagclust", "config.yaml")
}

// ResolveConfig layers built-in defaults, the config file, TAGCLUST_* env
// vars and CLI overrides, in that order, recording where each value came
// from.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	for _, s := range out.settings(cfg) {
		apply(s.dst, s.def, SourceDefault, "built-in default")
		if cfg != nil {
			apply(s.dst, s.file, SourceConfig, path)
		}
		applyEnv(s.dst, s.env)
	}

	known := map[string]bool{}
	for _, s := range out.settings(cfg) {
		known[s.key] = true
		if v, ok := opts.CLI[s.key]; ok {
			apply(s.dst, v, SourceCLI, "--"+FlagName(s.key))
		}
	}
	for k := range opts.CLI {
		if !known[k] {
			return out, fmt.Errorf("unknown config key %q: %w", k, ErrInvalidValue)
		}
	}

	if out.DBPath.Value != "" && out.DBPath.Value != ":memory:" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	out.OutputDir.Value = expandUserPath(out.OutputDir.Value)

	return out, nil
}

// Get returns the value of key.
func (r ResolvedConfig) Get(key string) (ResolvedValue, bool) {
	for _, s := range r.settings(nil) {
		if s.key == key {
			return *s.dst, true
		}
	}
	return ResolvedValue{}, false
}

// Clustering holds the typed clustering settings.
type Clustering struct {
	Metric       int
	Weighted     bool
	KMin         int
	KMax         int
	TopN         int
	SweepSeed    uint64
	LabelSeed    *uint64
	SweepInits   int
	LabelInits   int
	InertiaPlots bool
}

// Clustering parses and validates the clustering settings.
func (r ResolvedConfig) Clustering() (Clustering, error) {
	var (
		c   Clustering
		err error
	)
	ints := []struct {
		v   ResolvedValue
		dst *int
		min int
	}{
		{r.Metric, &c.Metric, 1},
		{r.KMin, &c.KMin, 1},
		{r.KMax, &c.KMax, 1},
		{r.TopN, &c.TopN, 1},
		{r.SweepInits, &c.SweepInits, 1},
		{r.LabelInits, &c.LabelInits, 1},
	}
	for _, f := range ints {
		if *f.dst, err = parseInt(f.v, f.min); err != nil {
			return c, err
		}
	}
	if c.Metric > 2 {
		return c, fmt.Errorf("metric %d (from %s): %w", c.Metric, r.Metric.From, ErrInvalidValue)
	}
	if c.KMin > c.KMax {
		return c, fmt.Errorf("k_min %d > k_max %d: %w", c.KMin, c.KMax, ErrInvalidValue)
	}
	if c.Weighted, err = parseBool(r.Weighted); err != nil {
		return c, err
	}
	if c.InertiaPlots, err = parseBool(r.InertiaPlots); err != nil {
		return c, err
	}
	if c.SweepSeed, err = parseUint(r.SweepSeed); err != nil {
		return c, err
	}
	if strings.TrimSpace(r.LabelSeed.Value) != "" {
		seed, err := parseUint(r.LabelSeed)
		if err != nil {
			return c, err
		}
		c.LabelSeed = &seed
	}
	return c, nil
}

// Columns returns the input column mapping.
func (r ResolvedConfig) Columns() ingest.Columns {
	return ingest.Columns{
		Post:           r.PostColumn.Value,
		Tag:            r.TagColumn.Value,
		Classification: r.ClassificationColumn.Value,
	}
}

// Logging returns the logger configuration. Output is left to the caller.
func (r ResolvedConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = r.LogLevel.Value
	cfg.Format = r.LogFormat.Value
	return cfg
}

// WriteXLSX reports whether an XLSX copy of the output is wanted. On by
// default; --xlsx=false turns it off.
func (r ResolvedConfig) WriteXLSX() (bool, error) {
	return parseBool(r.XLSX)
}

func parseInt(v ResolvedValue, min int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil || n < min {
		return 0, fmt.Errorf("%q (from %s) must be an integer >= %d: %w", v.Value, describe(v), min, ErrInvalidValue)
	}
	return n, nil
}

func parseUint(v ResolvedValue) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q (from %s) must be a non-negative integer: %w", v.Value, describe(v), ErrInvalidValue)
	}
	return n, nil
}

func parseBool(v ResolvedValue) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v.Value)) {
	case "", "0", "false", "no", "off":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	}
	return false, fmt.Errorf("%q (from %s) must be a boolean: %w", v.Value, describe(v), ErrInvalidValue)
}

func describe(v ResolvedValue) string {
	if v.From != "" {
		return v.From
	}
	return string(v.Source)
}

var flagNames = map[string]string{
	"db_path":                "db",
	"output_dir":             "out",
	"clustering.sweep_seed":  "seed",
	"columns.post":           "post-column",
	"columns.tag":            "tag-column",
	"columns.classification": "class-column",
	"log.level":              "log-level",
	"log.format":             "log-format",
}

// FlagName is the CLI flag that overrides key: "clustering.k_min" is
// "k-min".
func FlagName(key string) string {
	if f, ok := flagNames[key]; ok {
		return f
	}
	if i := strings.LastIndex(key, "."); i >= 0 {
		key = key[i+1:]
	}
	return strings.ReplaceAll(key, "_", "-")
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

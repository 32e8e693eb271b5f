package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolveConfig_Defaults(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	c, err := resolved.Clustering()
	if err != nil {
		t.Fatalf("Clustering: %v", err)
	}
	want := Clustering{Metric: 1, KMin: 2, KMax: 10, TopN: 3, SweepSeed: 11, SweepInits: 20, LabelInits: 100}
	if c != want {
		t.Fatalf("defaults = %+v, want %+v", c, want)
	}
	if resolved.KMin.Source != SourceDefault {
		t.Fatalf("expected default source, got %s", resolved.KMin.Source)
	}
	if xlsx, err := resolved.WriteXLSX(); err != nil || !xlsx {
		t.Fatalf("xlsx default = %v, %v; want true", xlsx, err)
	}
	cols := resolved.Columns()
	if cols.Post != "ID" || cols.Tag != "Class" || cols.Classification != "Classification" {
		t.Fatalf("columns = %+v", cols)
	}
}

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	cfgPath := writeConfig(t, `db_path: ~/.tagclust/from-config.db
clustering:
  metric: 2
  k_min: 4
  k_max: 8
  weighted: true
columns:
  tag: Label
`)

	t.Setenv("TAGCLUST_DB", "~/from-env.db")
	t.Setenv("TAGCLUST_K_MAX", "6")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLI: map[string]string{
			"db_path":          "~/from-cli.db",
			"clustering.top_n": "2",
		},
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.DBPath.Source != SourceCLI || resolved.DBPath.From != "--db" {
		t.Fatalf("expected DB path from --db, got %+v", resolved.DBPath)
	}
	if resolved.KMax.Source != SourceEnv || resolved.KMax.From != "TAGCLUST_K_MAX" {
		t.Fatalf("expected k_max from env, got %+v", resolved.KMax)
	}
	if resolved.KMin.Source != SourceConfig || resolved.KMin.From != cfgPath {
		t.Fatalf("expected k_min from config, got %+v", resolved.KMin)
	}
	if resolved.TopN.From != "--top-n" {
		t.Fatalf("top_n from = %q", resolved.TopN.From)
	}

	c, err := resolved.Clustering()
	if err != nil {
		t.Fatalf("Clustering: %v", err)
	}
	if c.Metric != 2 || c.KMin != 4 || c.KMax != 6 || c.TopN != 2 || !c.Weighted {
		t.Fatalf("clustering = %+v", c)
	}
	if resolved.Columns().Tag != "Label" {
		t.Fatalf("tag column = %q", resolved.Columns().Tag)
	}
}

func TestResolveConfig_LabelSeed(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "none.yaml"),
		CLI:        map[string]string{"clustering.label_seed": "7"},
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := resolved.Clustering()
	if err != nil {
		t.Fatal(err)
	}
	if c.LabelSeed == nil || *c.LabelSeed != 7 {
		t.Fatalf("label seed = %v", c.LabelSeed)
	}
	if resolved.LabelSeed.From != "--label-seed" {
		t.Fatalf("label seed from = %q", resolved.LabelSeed.From)
	}
}

func TestResolveConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		cli  map[string]string
	}{
		{"non-numeric k", map[string]string{"clustering.k_min": "three"}},
		{"metric out of range", map[string]string{"clustering.metric": "3"}},
		{"inverted range", map[string]string{"clustering.k_min": "9", "clustering.k_max": "4"}},
		{"bad bool", map[string]string{"clustering.weighted": "maybe"}},
		{"negative seed", map[string]string{"clustering.sweep_seed": "-1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "x.yaml"), CLI: tc.cli})
			if err != nil {
				t.Fatalf("ResolveConfig: %v", err)
			}
			if _, err := resolved.Clustering(); !errors.Is(err, ErrInvalidValue) {
				t.Fatalf("expected ErrInvalidValue, got %v", err)
			}
		})
	}

	_, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "x.yaml"), CLI: map[string]string{"bogus": "1"}})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for unknown key, got %v", err)
	}
}

func TestResolveConfig_BadYAML(t *testing.T) {
	cfgPath := writeConfig(t, "clustering: [unterminated\n")
	if _, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestKeysAndGet(t *testing.T) {
	keys := Keys()
	if len(keys) == 0 || keys[0] != "db_path" {
		t.Fatalf("keys = %v", keys)
	}
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "x.yaml")})
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if _, ok := resolved.Get(k); !ok {
			t.Errorf("Get(%q) not found", k)
		}
	}
	if v, _ := resolved.Get("clustering.sweep_inits"); v.Value != "20" {
		t.Fatalf("sweep_inits = %+v", v)
	}
}

func TestFlagName(t *testing.T) {
	cases := map[string]string{
		"clustering.k_min":      "k-min",
		"clustering.sweep_seed": "seed",
		"output_dir":            "out",
		"columns.post":          "post-column",
	}
	for key, want := range cases {
		if got := FlagName(key); got != want {
			t.Errorf("FlagName(%q) = %q, want %q", key, got, want)
		}
	}
}

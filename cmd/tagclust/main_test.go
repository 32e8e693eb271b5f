package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hurttlocker/tagclust/internal/config"
	"github.com/hurttlocker/tagclust/internal/plot"
	"github.com/hurttlocker/tagclust/internal/store"
)

func resetGlobals(t *testing.T) {
	t.Helper()
	globalDBPath, globalConfigPath, globalVerbose = "", "", false
	t.Cleanup(func() { globalDBPath, globalConfigPath, globalVerbose = "", "", false })
}

func captureStdout(fn func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// ==================== parseGlobalFlags ====================

func TestParseGlobalFlags(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		db, cfg string
		verbose bool
		rest    []string
	}{
		{"db flag", []string{"--db", "/tmp/t.db", "runs"}, "/tmp/t.db", "", false, []string{"runs"}},
		{"db equals", []string{"--db=/tmp/eq.db", "show", "abc"}, "/tmp/eq.db", "", false, []string{"show", "abc"}},
		{"config after command", []string{"run", "--config", "c.yaml", "a.csv"}, "", "c.yaml", false, []string{"run", "a.csv"}},
		{"verbose", []string{"--verbose", "stats"}, "", "", true, []string{"stats"}},
		{"none", []string{"version"}, "", "", false, []string{"version"}},
		{"empty", []string{}, "", "", false, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resetGlobals(t)
			rest := parseGlobalFlags(tc.args)
			if globalDBPath != tc.db || globalConfigPath != tc.cfg || globalVerbose != tc.verbose {
				t.Fatalf("globals = %q %q %v", globalDBPath, globalConfigPath, globalVerbose)
			}
			if !reflect.DeepEqual(rest, tc.rest) {
				t.Fatalf("rest = %v, want %v", rest, tc.rest)
			}
		})
	}
}

// ==================== run arg parsing ====================

func TestParseRunArgs_PositionalAndFlags(t *testing.T) {
	ra, err := parseRunArgs([]string{"posts.csv", "--metric", "2", "tests.csv", "--weighted", "--seed=9", "--no-store"})
	if err != nil {
		t.Fatalf("parseRunArgs: %v", err)
	}
	if ra.associations != "posts.csv" || ra.classifications != "tests.csv" || !ra.noStore {
		t.Fatalf("run args = %+v", ra)
	}
	want := map[string]string{
		"clustering.metric":     "2",
		"clustering.weighted":   "true",
		"clustering.sweep_seed": "9",
	}
	if !reflect.DeepEqual(ra.cli, want) {
		t.Fatalf("cli = %v, want %v", ra.cli, want)
	}
}

func TestParseRunArgs_NamedPaths(t *testing.T) {
	ra, err := parseRunArgs([]string{"--associations", "a.xlsx", "--classifications", "b.csv", "--out", "outdir"})
	if err != nil {
		t.Fatal(err)
	}
	if ra.associations != "a.xlsx" || ra.classifications != "b.csv" {
		t.Fatalf("run args = %+v", ra)
	}
	if ra.cli["output_dir"] != "outdir" {
		t.Fatalf("cli = %v", ra.cli)
	}
}

func TestParseRunArgs_Errors(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{nil, "usage"},
		{[]string{"only.csv"}, "usage"},
		{[]string{"a.csv", "b.csv", "c.csv"}, "unexpected argument"},
		{[]string{"a.csv", "b.csv", "--bogus"}, "not defined"},
	}
	for _, tc := range cases {
		_, err := parseRunArgs(tc.args)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("parseRunArgs(%v) = %v, want error containing %q", tc.args, err, tc.want)
		}
	}
}

// ==================== end to end ====================

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("ID,Class\n")
	for p := 1; p <= 10; p++ {
		switch {
		case p <= 4:
			fmt.Fprintf(&b, "p%d,A\np%d,B\n", p, p)
		case p <= 8:
			fmt.Fprintf(&b, "p%d,C\np%d,D\n", p, p)
		default:
			fmt.Fprintf(&b, "p%d,E\n", p)
		}
	}
	assoc := filepath.Join(dir, "posts.csv")
	class := filepath.Join(dir, "tests.csv")
	if err := os.WriteFile(assoc, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(class, []byte("Class,Classification\nA,greater\nB,greater\nC,less\nD,less\nE,greater\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return assoc, class
}

func TestRunAndInspect(t *testing.T) {
	resetGlobals(t)
	t.Setenv("HOME", t.TempDir())
	globalDBPath = filepath.Join(t.TempDir(), "runs.db")
	globalConfigPath = filepath.Join(t.TempDir(), "missing.yaml")

	assoc, class := writeInputs(t)
	out := t.TempDir()

	var runErr error
	stdout := captureStdout(func() {
		runErr = runRun([]string{assoc, class,
			"--out", out, "--k-min", "2", "--k-max", "4", "--top-n", "2",
			"--label-seed", "3", "--label-inits", "10", "--sweep-inits", "5", "--xlsx"})
	})
	if runErr != nil {
		t.Fatalf("runRun: %v", runErr)
	}
	if !strings.Contains(stdout, "Saved run") || !strings.Contains(stdout, "5 tags over 10 posts") {
		t.Fatalf("unexpected summary:\n%s", stdout)
	}
	for _, name := range []string{"Clusterings-posts.csv", "Clusterings-posts.xlsx", filepath.Join(plot.DirName, "SilhouetteScore-posts-m1.png")} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	s, err := store.NewStore(store.StoreConfig{DBPath: globalDBPath})
	if err != nil {
		t.Fatal(err)
	}
	runs, err := s.ListRuns(t.Context(), store.ListOpts{})
	s.Close()
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns = %v, %v", runs, err)
	}
	id := runs[0].ID

	listing := captureStdout(func() { runErr = runRuns(nil) })
	if runErr != nil || !strings.Contains(listing, id[:8]) {
		t.Fatalf("runs output (%v):\n%s", runErr, listing)
	}

	detail := captureStdout(func() { runErr = runShow([]string{id[:8], "--k", "3"}) })
	if runErr != nil {
		t.Fatalf("runShow: %v", runErr)
	}
	if !strings.Contains(detail, "Clustering Size 3") || strings.Contains(detail, "Clustering Size 2") {
		t.Fatalf("show output:\n%s", detail)
	}
	if !strings.Contains(detail, "A, B") || !strings.Contains(detail, "C, D") {
		t.Fatalf("expected AB and CD clusters:\n%s", detail)
	}

	deleted := captureStdout(func() { runErr = runDelete([]string{id}) })
	if runErr != nil || !strings.Contains(deleted, "Deleted run") {
		t.Fatalf("delete (%v): %s", runErr, deleted)
	}
	if err := runShow([]string{id}); err == nil {
		t.Fatal("expected error showing a deleted run")
	}
}

func TestRunNoStore(t *testing.T) {
	resetGlobals(t)
	globalDBPath = filepath.Join(t.TempDir(), "untouched.db")
	globalConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	assoc, class := writeInputs(t)
	out := t.TempDir()

	var runErr error
	stdout := captureStdout(func() {
		runErr = runRun([]string{assoc, class, "--out", out, "--k-min", "2", "--k-max", "3",
			"--sweep-inits", "3", "--label-inits", "3", "--no-store", "--no-plots", "--json"})
	})
	if runErr != nil {
		t.Fatalf("runRun: %v", runErr)
	}
	if !strings.Contains(stdout, `"saved": false`) {
		t.Fatalf("json summary:\n%s", stdout)
	}
	if _, err := os.Stat(globalDBPath); !os.IsNotExist(err) {
		t.Fatalf("store should not be created with --no-store, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "Clusterings-posts.xlsx")); err != nil {
		t.Fatalf("xlsx copy should be written by default: %v", err)
	}
}

func TestRunXLSXOff(t *testing.T) {
	resetGlobals(t)
	globalConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	assoc, class := writeInputs(t)
	out := t.TempDir()

	var runErr error
	captureStdout(func() {
		runErr = runRun([]string{assoc, class, "--out", out, "--k-min", "2", "--k-max", "3",
			"--sweep-inits", "3", "--label-inits", "3", "--no-store", "--no-plots", "--xlsx=false"})
	})
	if runErr != nil {
		t.Fatalf("runRun: %v", runErr)
	}
	if _, err := os.Stat(filepath.Join(out, "Clusterings-posts.csv")); err != nil {
		t.Fatalf("csv missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "Clusterings-posts.xlsx")); !os.IsNotExist(err) {
		t.Fatalf("xlsx should be skipped with --xlsx=false, stat err = %v", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	resetGlobals(t)
	globalConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	assoc, class := writeInputs(t)
	err := runRun([]string{assoc, class, "--k-min", "9", "--k-max", "4", "--no-store"})
	if err == nil || !strings.Contains(err.Error(), "k_min") {
		t.Fatalf("expected k_min error, got %v", err)
	}
}

// ==================== output helpers ====================

func TestPrintRunsEmpty(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil, time.Now())
	if !strings.Contains(buf.String(), "No runs") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestPrintConfigShowsSources(t *testing.T) {
	resetGlobals(t)
	t.Setenv("TAGCLUST_TOP_N", "5")
	cfg, err := config.ResolveConfig(config.ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	printConfig(&buf, cfg)
	out := buf.String()
	if !strings.Contains(out, "clustering.top_n") || !strings.Contains(out, "env TAGCLUST_TOP_N") {
		t.Fatalf("config output:\n%s", out)
	}
	if !strings.Contains(out, "(unset)") {
		t.Fatalf("expected unset label seed:\n%s", out)
	}
}

func TestVersionOutput(t *testing.T) {
	out := captureStdout(func() {
		fmt.Printf("tagclust %s\n", version)
	})
	if !strings.Contains(out, "tagclust") || !strings.Contains(out, version) {
		t.Errorf("version output = %q", out)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789"); got != "01234567" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID = %q", got)
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/tira-io/tirex-tracker/internal/model"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, found := vars[key]
		return v, found
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tirex-tracker.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := load(fs, []string{"--config", writeConfig(t, "")}, env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultConfig()
	if cfg.Listen != def.Listen || cfg.DBPath != def.DBPath || cfg.PollInterval() != 100*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Measures) != 0 {
		t.Errorf("measures = %v", cfg.Measures)
	}
}

func TestMissingDefaultFileIsFine(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if _, err := load(fs, nil, env(nil)); err != nil {
		t.Errorf("load without config file: %v", err)
	}

	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	if _, err := load(fs, []string{"--config", filepath.Join(dir, "nope.yaml")}, env(nil)); err == nil {
		t.Error("explicit missing config file accepted")
	}
}

func TestPriority(t *testing.T) {
	path := writeConfig(t, `
listen: 0.0.0.0:1000
database: from-yaml.db
log_level: debug
poll_interval_ms: 250
retention_hours: 1
measures: [OS_NAME, TIME_ELAPSED_WALL_CLOCK_MS]
`)
	vars := map[string]string{
		"TIREX_TRACKER_DATABASE":         "from-env.db",
		"TIREX_TRACKER_POLL_INTERVAL_MS": "500",
		"TIREX_TRACKER_MEASURES":         "GIT_HASH, GIT_BRANCH",
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	run := fs.Bool("json", false, "command flag")
	args := []string{"-c", path, "--poll-interval", "50", "--json", "--", "echo", "hi"}

	cfg, err := load(fs, args, env(vars))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:1000" {
		t.Errorf("listen = %q, want yaml value", cfg.Listen)
	}
	if cfg.DBPath != "from-env.db" {
		t.Errorf("database = %q, want env value", cfg.DBPath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.PollIntervalMs != 50 {
		t.Errorf("poll = %d, want flag value", cfg.PollIntervalMs)
	}
	if len(cfg.Measures) != 2 || cfg.Measures[0] != "GIT_HASH" || cfg.Measures[1] != "GIT_BRANCH" {
		t.Errorf("measures = %v", cfg.Measures)
	}
	if cfg.Retention() != time.Hour {
		t.Errorf("retention = %v", cfg.Retention())
	}
	if !*run {
		t.Error("command flag not parsed")
	}
	if rest := fs.Args(); len(rest) != 2 || rest[0] != "echo" {
		t.Errorf("positional args = %v", rest)
	}
}

func TestMeasureFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	args := []string{"-c", writeConfig(t, "measures: [OS_NAME]"), "-m", "GIT_HASH", "-m", "TIME_START,TIME_STOP"}
	cfg, err := load(fs, args, env(nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Measures) != 3 || cfg.Measures[2] != "TIME_STOP" {
		t.Errorf("measures = %v", cfg.Measures)
	}
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		vars map[string]string
		args []string
	}{
		{name: "bad yaml", yaml: "listen: [unclosed"},
		{name: "zero poll", args: []string{"--poll-interval", "0"}},
		{name: "bad level", vars: map[string]string{"TIREX_TRACKER_LOG_LEVEL": "loud"}},
		{name: "bad format", yaml: "log_format: xml"},
		{name: "bad env number", vars: map[string]string{"TIREX_TRACKER_RETENTION_HOURS": "many"}},
		{name: "negative retention", args: []string{"--retention=-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			args := append([]string{"-c", writeConfig(t, tt.yaml)}, tt.args...)
			if _, err := load(fs, args, env(tt.vars)); err == nil {
				t.Error("load accepted invalid configuration")
			}
		})
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	_, err := load(fs, []string{"-c", writeConfig(t, ""), "--log-format", "xml"}, env(nil))
	if !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

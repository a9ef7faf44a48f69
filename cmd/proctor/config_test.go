package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/urfave/cli/v3"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg != defaultConfig() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestSaveConfig_KeepsToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctor.toml")
	cfg := defaultConfig()
	cfg.Token = "abc.def.ghi"
	cfg.PushStatus = true
	if err := saveConfig(path, cfg); err != nil {
		t.Fatalf("saveConfig: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got != cfg {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctor.toml")
	if err := os.WriteFile(path, []byte("server_url = \"https://exam.example.sch.id\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ServerURL != "https://exam.example.sch.id" || cfg.AutosaveSeconds != 30 || cfg.UnlockPollSeconds != 5 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestApplyFlags_OnlyExplicitFlagsOverride(t *testing.T) {
	base := defaultConfig()
	base.Token = "from-file"

	var got fileConfig
	app := newApp()
	app.Action = func(ctx context.Context, cmd *cli.Command) error {
		got = applyFlags(base, cmd)
		return nil
	}
	if err := app.Run(context.Background(), []string{"proctor", "--server", "http://10.0.0.5:8080", "--autosave-seconds", "10"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got.ServerURL != "http://10.0.0.5:8080" {
		t.Errorf("server = %q", got.ServerURL)
	}
	if got.AutosaveSeconds != 10 {
		t.Errorf("autosave = %d", got.AutosaveSeconds)
	}
	if got.Token != "from-file" || got.UnlockPollSeconds != 5 {
		t.Errorf("unset flags overrode the file: %+v", got)
	}
	if got.autosaveInterval() != 10*time.Second {
		t.Errorf("interval = %v", got.autosaveInterval())
	}
}

func TestTerminalEnv_DeliversUntilUnsubscribed(t *testing.T) {
	env := newTerminalEnv(os.Stderr)
	var got []session.SignalKind
	unsubscribe := env.Subscribe(func(sig session.Signal) { got = append(got, sig.Kind) })

	env.emit(session.SignalHidden, "hide")
	env.emit(session.SignalFullscreenExit, "fs-exit")
	unsubscribe()
	env.emit(session.SignalVisible, "show")

	if len(got) != 2 || got[0] != session.SignalHidden || got[1] != session.SignalFullscreenExit {
		t.Errorf("signals = %v", got)
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := map[int]string{0: "00:00", -5: "00:00", 59: "00:59", 61: "01:01", 3600: "60:00"}
	for in, want := range cases {
		if got := formatRemaining(in); got != want {
			t.Errorf("formatRemaining(%d) = %q, want %q", in, got, want)
		}
	}
}

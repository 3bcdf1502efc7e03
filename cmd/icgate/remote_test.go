package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRemotesFile_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	chair := Remote{
		URL: "https://ic.example.com", GRPCAddr: "ic.example.com:9090", Transport: "grpc",
		Token: "tok_abc", NATSURL: "nats://ic:4222", Actor: "ic-chair", Role: "chair",
	}
	in := RemotesConfig{
		Active:  "prod",
		Remotes: map[string]Remote{"prod": chair, "local": {URL: "http://localhost:8080"}},
	}
	if err := saveRemotesConfig(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := loadRemotesConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	name, r, err := got.lookup("")
	if err != nil || name != "prod" || r != chair {
		t.Fatalf("lookup(active) = %q, %+v, %v", name, r, err)
	}
	if got.Remotes["local"].URL != "http://localhost:8080" {
		t.Errorf("local = %+v", got.Remotes["local"])
	}
}

func TestRemotesFile_Missing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadRemotesConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Active != "" || cfg.Remotes == nil || len(cfg.Remotes) != 0 {
		t.Errorf("expected empty config, got %+v", cfg)
	}
	if _, _, err := cfg.lookup(""); err == nil {
		t.Error("lookup with no active remote should fail")
	}
}

func TestRemotesFile_Permissions(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := saveRemotesConfig(RemotesConfig{Remotes: map[string]Remote{}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	path, _ := remoteConfigPath()
	for p, want := range map[string]os.FileMode{path: 0o600, filepath.Dir(path): 0o700} {
		st, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if got := st.Mode().Perm(); got != want {
			t.Errorf("%s permissions = %04o, want %04o", p, got, want)
		}
	}
}

func TestValidateRemote(t *testing.T) {
	for _, tc := range []struct {
		name    string
		r       Remote
		wantErr bool
	}{
		{"plain http", Remote{URL: "http://localhost:8080"}, false},
		{"grpc with addr", Remote{URL: "https://ic", GRPCAddr: "ic:9090", Transport: "grpc"}, false},
		{"no scheme", Remote{URL: "localhost:8080"}, true},
		{"ftp", Remote{URL: "ftp://ic"}, true},
		{"grpc without addr", Remote{URL: "http://ic", Transport: "grpc"}, true},
		{"bad transport", Remote{URL: "http://ic", Transport: "carrier-pigeon"}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateRemote(tc.r); (err != nil) != tc.wantErr {
				t.Fatalf("validateRemote = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRemoteLifecycle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var buf bytes.Buffer
	for _, c := range []interface{ SetOut(io.Writer) }{remoteAddCmd, remoteUseCmd, remoteListCmd, remoteShowCmd, remoteRemoveCmd} {
		c.SetOut(&buf)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}

	must(remoteAddCmd.RunE(remoteAddCmd, []string{"local", "http://localhost:8080/"}))
	if !strings.Contains(buf.String(), `"local" added`) {
		t.Errorf("first add output = %q", buf.String())
	}
	buf.Reset()
	must(remoteAddCmd.RunE(remoteAddCmd, []string{"local", "http://localhost:8080"}))
	if !strings.Contains(buf.String(), `"local" updated`) {
		t.Errorf("second add output = %q", buf.String())
	}
	must(remoteUseCmd.RunE(remoteUseCmd, []string{"local"}))

	cfg, _ := loadRemotesConfig()
	if cfg.Active != "local" || cfg.Remotes["local"].URL != "http://localhost:8080" {
		t.Fatalf("cfg = %+v", cfg)
	}

	buf.Reset()
	must(remoteListCmd.RunE(remoteListCmd, nil))
	if !strings.Contains(buf.String(), "* local") {
		t.Errorf("list missing active marker; got:\n%s", buf.String())
	}

	buf.Reset()
	must(remoteShowCmd.RunE(remoteShowCmd, nil))
	if out := buf.String(); !strings.Contains(out, "http://localhost:8080") || !strings.Contains(out, "(active)") {
		t.Errorf("show output:\n%s", out)
	}

	must(remoteUseCmd.RunE(remoteUseCmd, nil))
	if cfg, _ = loadRemotesConfig(); cfg.Active != "" {
		t.Fatalf("use with no args should clear Active, got %q", cfg.Active)
	}

	must(remoteUseCmd.RunE(remoteUseCmd, []string{"local"}))
	must(remoteRemoveCmd.RunE(remoteRemoveCmd, []string{"local"}))
	cfg, _ = loadRemotesConfig()
	if _, ok := cfg.Remotes["local"]; ok || cfg.Active != "" {
		t.Errorf("after remove: %+v", cfg)
	}
}

func TestMaskToken(t *testing.T) {
	for _, tt := range []struct {
		token string
		full  bool
		want  string
	}{
		{"short", false, "short"},
		{"tok_verylongsecret", false, "tok_very..."},
		{"tok_verylongsecret", true, "tok_very**********"},
	} {
		if got := maskToken(tt.token, tt.full); got != tt.want {
			t.Errorf("maskToken(%q, %v) = %q, want %q", tt.token, tt.full, got, tt.want)
		}
	}
}

func TestRemoteErrorCases(t *testing.T) {
	for name, fn := range map[string]func() error{
		"use unknown":    func() error { return remoteUseCmd.RunE(remoteUseCmd, []string{"ghost"}) },
		"remove unknown": func() error { return remoteRemoveCmd.RunE(remoteRemoveCmd, []string{"ghost"}) },
		"show no active": func() error { return remoteShowCmd.RunE(remoteShowCmd, nil) },
		"add bad url":    func() error { return remoteAddCmd.RunE(remoteAddCmd, []string{"x", "not a url"}) },
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			if err := fn(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Gateway.Port != 18690 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Recall.RecentImageLimit != 3 {
		t.Errorf("recall limit = %d, want 3", cfg.Recall.RecentImageLimit)
	}
	if cfg.Channels.QQ.MediaUploadTimeoutS != 60 {
		t.Errorf("upload timeout = %d, want 60", cfg.Channels.QQ.MediaUploadTimeoutS)
	}
	if cfg.Model.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("api key env = %q", cfg.Model.APIKeyEnv)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18690 {
		t.Errorf("missing file should yield defaults, port = %d", cfg.Gateway.Port)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mmbridge.toml")
	body := `
[gateway]
port = 9999

[recall]
recent_image_limit = 5
deictic_cues = ["看看这个"]

[channels.qq]
enabled = true
app_id = "app"
secret = "sec"
media_upload_command = "upload.sh {path}"

[channels.feishu]
enabled = true
app_id = "fs-app"
app_secret = "fs-sec"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Recall.RecentImageLimit != 5 {
		t.Errorf("recall limit = %d", cfg.Recall.RecentImageLimit)
	}
	if len(cfg.Recall.DeicticCues) != 1 || cfg.Recall.DeicticCues[0] != "看看这个" {
		t.Errorf("deictic cues = %v", cfg.Recall.DeicticCues)
	}
	if !cfg.Channels.QQ.Enabled || cfg.Channels.QQ.MediaUploadCommand != "upload.sh {path}" {
		t.Errorf("qq config = %+v", cfg.Channels.QQ)
	}
	if cfg.Channels.QQ.MediaUploadTimeoutS != 60 {
		t.Errorf("unset timeout should keep the default, got %d", cfg.Channels.QQ.MediaUploadTimeoutS)
	}
	if !cfg.Channels.Feishu.Enabled {
		t.Error("feishu not enabled")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("gateway = {{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed TOML should fail")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "negative recall limit",
			mutate:  func(c *Config) { c.Recall.RecentImageLimit = -1 },
			wantErr: "recent_image_limit",
		},
		{
			name:    "zero upload timeout",
			mutate:  func(c *Config) { c.Channels.QQ.MediaUploadTimeoutS = 0 },
			wantErr: "media_upload_timeout_s",
		},
		{
			name:    "qq enabled without credentials",
			mutate:  func(c *Config) { c.Channels.QQ.Enabled = true },
			wantErr: "channels.qq",
		},
		{
			name:    "feishu enabled without credentials",
			mutate:  func(c *Config) { c.Channels.Feishu.Enabled = true },
			wantErr: "channels.feishu",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestDataDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MMBRIDGE_DATA_DIR", dir)

	if got := DataDir(); got != dir {
		t.Errorf("DataDir() = %q, want %q", got, dir)
	}
	if got := DefaultConfigPath(); got != filepath.Join(dir, "mmbridge.toml") {
		t.Errorf("DefaultConfigPath() = %q", got)
	}
}

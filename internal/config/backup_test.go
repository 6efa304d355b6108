package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackupUserConfig(t *testing.T) {
	tmpDir := t.TempDir()

	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	configDir := filepath.Join(tmpDir, "msrl")
	configPath := filepath.Join(configDir, "config.yaml")

	t.Run("no config exists", func(t *testing.T) {
		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath != "" {
			t.Errorf("expected empty backup path for non-existent config, got %s", backupPath)
		}
	})

	t.Run("backup existing config", func(t *testing.T) {
		if err := os.MkdirAll(configDir, 0755); err != nil {
			t.Fatalf("failed to create config dir: %v", err)
		}
		testContent := "vault_root: /vaults/notes\nlog_level: info\n"
		if err := os.WriteFile(configPath, []byte(testContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath == "" {
			t.Fatal("expected non-empty backup path")
		}

		backupContent, err := os.ReadFile(backupPath)
		if err != nil {
			t.Fatalf("failed to read backup: %v", err)
		}
		if string(backupContent) != testContent {
			t.Errorf("backup content mismatch:\ngot: %s\nwant: %s", backupContent, testContent)
		}

		if !filepath.IsAbs(backupPath) {
			t.Errorf("backup path should be absolute: %s", backupPath)
		}
	})
}

func TestListUserConfigBackups(t *testing.T) {
	tmpDir := t.TempDir()

	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	configDir := filepath.Join(tmpDir, "msrl")
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	t.Run("no backups exist", func(t *testing.T) {
		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 0 {
			t.Errorf("expected 0 backups, got %d", len(backups))
		}
	})

	t.Run("list multiple backups", func(t *testing.T) {
		timestamps := []string{"20260101-100000", "20260101-110000", "20260101-120000"}
		for _, ts := range timestamps {
			backupName := filepath.Join(configDir, "config.yaml.bak."+ts)
			if err := os.WriteFile(backupName, []byte("test"), 0644); err != nil {
				t.Fatalf("failed to create backup: %v", err)
			}
			time.Sleep(10 * time.Millisecond)
		}

		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 3 {
			t.Errorf("expected 3 backups, got %d", len(backups))
		}

		for i := 1; i < len(backups); i++ {
			info1, _ := os.Stat(backups[i-1])
			info2, _ := os.Stat(backups[i])
			if info1.ModTime().Before(info2.ModTime()) {
				t.Errorf("backups not sorted correctly: %s before %s", backups[i-1], backups[i])
			}
		}
	})

	t.Run("cleanup old backups", func(t *testing.T) {
		if err := os.WriteFile(configPath, []byte("vault_root: /vaults/notes\n"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		for i := 0; i < 4; i++ {
			if _, err := BackupUserConfig(); err != nil {
				t.Fatalf("failed to create backup: %v", err)
			}
			time.Sleep(10 * time.Millisecond)
		}

		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) > MaxBackups {
			t.Errorf("expected at most %d backups, got %d", MaxBackups, len(backups))
		}
	})
}

func TestRestoreUserConfig(t *testing.T) {
	tmpDir := t.TempDir()

	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	backupPath := filepath.Join(tmpDir, "restore-source.yaml")
	restoreContent := "vault_root: /vaults/restored\nlog_level: debug\n"
	if err := os.WriteFile(backupPath, []byte(restoreContent), 0644); err != nil {
		t.Fatalf("failed to write backup source: %v", err)
	}

	if err := RestoreUserConfig(backupPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(GetUserConfigPath())
	if err != nil {
		t.Fatalf("failed to read restored config: %v", err)
	}
	if string(got) != restoreContent {
		t.Errorf("restored content mismatch:\ngot: %s\nwant: %s", got, restoreContent)
	}
}

func TestWriteYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := NewConfig()
	cfg.VaultRoot = "/vaults/notes"
	cfg.Embedding.ModelPath = "models/bge-small.onnx"

	if err := cfg.WriteYAML(configPath); err != nil {
		t.Fatalf("failed to write YAML: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if len(data) == 0 {
		t.Error("written file is empty")
	}

	content := string(data)
	if !contains(content, "vault_root: /vaults/notes") {
		t.Error("written file should contain vault_root: /vaults/notes")
	}
	if !contains(content, "model_path: models/bge-small.onnx") {
		t.Error("written file should contain model_path: models/bge-small.onnx")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

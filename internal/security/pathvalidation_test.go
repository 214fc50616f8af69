package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	safeDir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"inside", filepath.Join(safeDir, "report.html"), false},
		{"nested inside", filepath.Join(safeDir, "out", "beats.png"), false},
		{"dot-dot escape", filepath.Join(safeDir, "..", "escape.txt"), true},
		{"absolute elsewhere", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safeDir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePathWithinDirectorySymlinkedParent(t *testing.T) {
	safeDir := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(safeDir, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(link, "new.txt"), safeDir); err == nil {
		t.Error("symlinked parent escaping the safe directory was accepted")
	}
}

func TestValidateExportPath(t *testing.T) {
	if err := ValidateExportPath(filepath.Join(os.TempDir(), "report")); err != nil {
		t.Errorf("temp dir path rejected: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateExportPath(filepath.Join(cwd, "report")); err != nil {
		t.Errorf("working dir path rejected: %v", err)
	}

	if err := ValidateExportPath("/definitely/not/allowed"); err == nil {
		t.Error("path outside allowed directories was accepted")
	}
}

package vault

import (
	"bytes"
	"strings"
	"testing"
)

func TestMemoryVault_PutAndGetContent(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	tests := []struct {
		name     string
		checksum string
		content  string
	}{
		{name: "store and retrieve content", checksum: "abc123", content: "hello world"},
		{name: "store empty content", checksum: "empty", content: ""},
		{name: "store large content", checksum: "large", content: strings.Repeat("x", 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := vault.PutContent(tt.checksum, strings.NewReader(tt.content), int64(len(tt.content))); err != nil {
				t.Fatalf("PutContent() error = %v", err)
			}

			has, err := vault.HasContent(tt.checksum)
			if err != nil || !has {
				t.Errorf("HasContent() = %v, %v; want true", has, err)
			}

			var buf bytes.Buffer
			if err := vault.GetContent(tt.checksum, &buf); err != nil {
				t.Fatalf("GetContent() unexpected error: %v", err)
			}
			if got := buf.String(); got != tt.content {
				t.Errorf("GetContent() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestMemoryVault_PutContentIdempotent(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	for i := 0; i < 2; i++ {
		content := "test content"
		if err := vault.PutContent("sum", strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("PutContent() iteration %d error: %v", i+1, err)
		}
	}

	if got := vault.ContentCount(); got != 1 {
		t.Errorf("ContentCount() = %d, want 1", got)
	}
}

func TestMemoryVault_ContentNotFound(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	var buf bytes.Buffer
	if err := vault.GetContent("nonexistent", &buf); err == nil {
		t.Error("GetContent() expected error for nonexistent checksum, got nil")
	}
	has, err := vault.HasContent("nonexistent")
	if err != nil {
		t.Fatalf("HasContent() error = %v", err)
	}
	if has {
		t.Error("HasContent() = true for nonexistent checksum")
	}
}

func TestMemoryVault_PutContentSizeMismatch(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	err := vault.PutContent("checksum", strings.NewReader("test"), 14)
	if err == nil {
		t.Error("PutContent() expected error for size mismatch, got nil")
	}
}

func TestMemoryVault_Metadata(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	version, err := vault.GetMetadataVersion("host-123", "db")
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	if version != 0 {
		t.Errorf("GetMetadataVersion() before put = %d, want 0", version)
	}

	metadata := "database content"
	if err := vault.PutMetadata("host-123", "db", strings.NewReader(metadata), int64(len(metadata)), 7); err != nil {
		t.Fatalf("PutMetadata() error: %v", err)
	}

	var buf bytes.Buffer
	if err := vault.GetMetadata("host-123", "db", &buf); err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if got := buf.String(); got != metadata {
		t.Errorf("GetMetadata() = %q, want %q", got, metadata)
	}

	if version, _ = vault.GetMetadataVersion("host-123", "db"); version != 7 {
		t.Errorf("GetMetadataVersion() = %d, want 7", version)
	}
	if err := vault.GetMetadata("host-123", "other", &buf); err == nil {
		t.Error("GetMetadata() expected error for unknown name")
	}
	if err := vault.GetMetadata("nonexistent-host", "db", &buf); err == nil {
		t.Error("GetMetadata() expected error for nonexistent host")
	}
}

func TestMemoryVault_ValidateSetup(t *testing.T) {
	if err := NewMemoryVault("test-vault").ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() unexpected error: %v", err)
	}
}

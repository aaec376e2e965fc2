package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"e2echat/models"
)

func TestAttachmentFromFileDetectsImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.bin")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	if err := os.WriteFile(path, png, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	attachment, err := attachmentFromFile(path)
	if err != nil {
		t.Fatalf("attachmentFromFile failed: %v", err)
	}
	if attachment.Kind != models.KindImage || attachment.MimeType != "image/png" {
		t.Fatalf("expected png image, got %+v", attachment)
	}
	if attachment.Name != "photo.bin" || attachment.Size != int64(len(png)) {
		t.Fatalf("unexpected file metadata %+v", attachment)
	}
	if !strings.HasPrefix(attachment.URI, "file://") {
		t.Fatalf("expected file URI, got %q", attachment.URI)
	}
}

func TestAttachmentFromFileRejectsDirectories(t *testing.T) {
	if _, err := attachmentFromFile(t.TempDir()); err == nil {
		t.Fatalf("expected directory to be rejected")
	}
}

func TestReactionCountsAreSorted(t *testing.T) {
	reactions := models.Reactions{"🔥": 2, "👍": 1, "❤️": 3}
	want := "❤️×3, 👍×1, 🔥×2"
	for i := 0; i < 20; i++ {
		if got := strings.Join(reactionCounts(reactions), ", "); got != want {
			t.Fatalf("unexpected reaction order %q, want %q", got, want)
		}
	}
	if got := reactionCounts(nil); len(got) != 0 {
		t.Fatalf("expected no entries for nil reactions, got %v", got)
	}
}

package model

import "testing"

func TestMediaIsLocalURI(t *testing.T) {
	tests := []struct {
		uri   string
		local bool
	}{
		{"file:///data/cache/img.jpg", true},
		{"/data/cache/img.jpg", true},
		{"https://storage.googleapis.com/b/k", false},
		{"http://example.com/k", false},
	}
	for _, tt := range tests {
		m := &EchoMedia{URI: tt.uri}
		if got := m.IsLocalURI(); got != tt.local {
			t.Errorf("IsLocalURI(%q) = %v, want %v", tt.uri, got, tt.local)
		}
	}
}

func TestMediaLocalPath(t *testing.T) {
	m := &EchoMedia{URI: "file:///data/cache/img.jpg"}
	if got := m.LocalPath(); got != "/data/cache/img.jpg" {
		t.Errorf("LocalPath() = %q", got)
	}
	m.URI = "/plain/path.jpg"
	if got := m.LocalPath(); got != "/plain/path.jpg" {
		t.Errorf("LocalPath() = %q", got)
	}
}

func TestMediaBlobKey(t *testing.T) {
	m := &EchoMedia{ID: "m1", EchoID: "e1", Type: MediaVideo}
	if got := m.BlobKey(); got != "e1/video/m1" {
		t.Errorf("BlobKey() = %q, want e1/video/m1", got)
	}
}

func TestMediaValidate(t *testing.T) {
	m := &EchoMedia{ID: "m1", EchoID: "e1", Type: MediaPhoto, URI: "file:///a.jpg"}
	if err := m.Validate(); err != nil {
		t.Fatalf("valid media rejected: %v", err)
	}
	m.Type = "gif"
	if err := m.Validate(); err == nil {
		t.Error("unknown media type should be rejected")
	}
}

func TestMediaSetDefaults(t *testing.T) {
	m := &EchoMedia{}
	m.SetDefaults()
	if m.SyncStatus != SyncPending {
		t.Errorf("sync status = %q, want pending", m.SyncStatus)
	}
	if m.CreatedAt.IsZero() {
		t.Error("created_at should be defaulted")
	}
}

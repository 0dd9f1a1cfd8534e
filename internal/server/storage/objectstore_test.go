package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestObjectStore_RejectsInvalidLocators(t *testing.T) {
	store, err := NewObjectStore(ObjectStoreConfig{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "filedrop",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.Open(context.Background(), "../escape"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
	if err := store.Delete(context.Background(), "a/b"); err == nil {
		t.Error("expected error for nested locator")
	}
}

func TestObjectStore_KeysLiveUnderPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"filedrop/", "filedrop/"},
		{"/filedrop", "filedrop/"},
		{"a/b", "a/b/"},
		{"", ""},
	}
	for _, tt := range tests {
		store, err := NewObjectStore(ObjectStoreConfig{Endpoint: "localhost:9000", Bucket: "shared", Prefix: tt.prefix})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if store.prefix != tt.want {
			t.Errorf("prefix %q normalized to %q, want %q", tt.prefix, store.prefix, tt.want)
		}
	}

	store, err := NewObjectStore(ObjectStoreConfig{Endpoint: "localhost:9000", Bucket: "shared", Prefix: "filedrop/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	locator := NewLocator("report.pdf")
	if got := store.objectKey(locator); got != "filedrop/"+locator {
		t.Errorf("objectKey = %q", got)
	}

	keys := map[string]bool{
		"filedrop/" + locator:        true,
		locator:                      false,
		"filedrop/README.md":         false,
		"filedrop/nested/" + locator: false,
		"other/" + locator:           false,
	}
	for key, want := range keys {
		got, ok := store.locatorFor(key)
		if ok != want {
			t.Errorf("locatorFor(%q) ok = %v, want %v", key, ok, want)
		}
		if ok && got != locator {
			t.Errorf("locatorFor(%q) = %q, want %q", key, got, locator)
		}
	}
}

func TestPutOptions(t *testing.T) {
	opts := putOptions(NewLocator("photo.png"))
	if opts.PartSize != 16<<20 {
		t.Errorf("expected 16 MiB parts, got %d", opts.PartSize)
	}
	if opts.ContentType != "image/png" {
		t.Errorf("expected image/png, got %q", opts.ContentType)
	}

	if got := putOptions(NewLocator("blob")).ContentType; got != "application/octet-stream" {
		t.Errorf("expected octet-stream fallback, got %q", got)
	}
}

func TestIsNoSuchKey(t *testing.T) {
	if !isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}) {
		t.Error("expected NoSuchKey to be recognised")
	}
	if isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied"}) {
		t.Error("expected AccessDenied not to be NoSuchKey")
	}
	if isNoSuchKey(errors.New("dial tcp: refused")) {
		t.Error("expected plain errors not to be NoSuchKey")
	}
}

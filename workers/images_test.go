package workers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type captureUploader struct {
	key         string
	contentType string
	data        []byte
}

func (u *captureUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	u.key = key
	u.contentType = contentType
	u.data, _ = io.ReadAll(data)
	return nil
}

func (u *captureUploader) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

func TestMirrorContentAddressesImage(t *testing.T) {
	payload := []byte("fake-png-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer server.Close()

	uploader := &captureUploader{}
	w := NewImageWorker(nil, uploader)

	key, err := w.mirror(context.Background(), server.URL+"/img/product.png")
	if err != nil {
		t.Fatalf("mirror failed: %v", err)
	}
	if !strings.HasPrefix(key, "images/") || !strings.HasSuffix(key, ".png") {
		t.Errorf("unexpected key: %q", key)
	}
	if uploader.contentType != "image/png" {
		t.Errorf("unexpected content type: %q", uploader.contentType)
	}
	if !bytes.Equal(uploader.data, payload) {
		t.Error("uploaded bytes differ from downloaded bytes")
	}

	// Same bytes always hash to the same key.
	key2, err := w.mirror(context.Background(), server.URL+"/img/other-name.png")
	if err != nil {
		t.Fatalf("second mirror failed: %v", err)
	}
	if key2 != key {
		t.Errorf("identical content produced different keys: %q vs %q", key, key2)
	}
}

func TestMirrorRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	w := NewImageWorker(nil, &captureUploader{})
	if _, err := w.mirror(context.Background(), server.URL+"/missing.jpg"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestGuessExtension(t *testing.T) {
	cases := []struct {
		url, contentType, want string
	}{
		{"https://cdn.example.com/p/1.png", "", ".png"},
		{"https://cdn.example.com/p/1.jpeg", "image/png", ".jpeg"},
		{"https://cdn.example.com/p/1", "image/webp", ".webp"},
		{"https://cdn.example.com/p/1.php?img=2", "image/gif", ".gif"},
		{"https://cdn.example.com/p/1", "", ".jpg"},
	}
	for _, c := range cases {
		if got := guessExtension(c.url, c.contentType); got != c.want {
			t.Errorf("guessExtension(%q, %q) = %q, want %q", c.url, c.contentType, got, c.want)
		}
	}
}

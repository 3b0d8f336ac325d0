package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/config"
)

func TestOpen_CreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	fs, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, dir := range []string{"uploads", "related", "exports"} {
		if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
			t.Errorf("missing %s: %v", dir, err)
		}
	}
	if err := afero.WriteFile(fs, "uploads/a.csv", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "uploads", "a.csv")); err != nil {
		t.Errorf("file not under root: %v", err)
	}
}

func TestOpen_RequiresRoot(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("expected error for empty root")
	}
}

func TestExpired(t *testing.T) {
	fs := afero.NewMemMapFs()
	Prepare(fs)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for name, age := range map[string]time.Duration{"old.csv": 10 * 24 * time.Hour, "new.csv": time.Hour, "older.zip": 30 * 24 * time.Hour} {
		p := "exports/" + name
		afero.WriteFile(fs, p, []byte("x"), 0o644)
		fs.Chtimes(p, now.Add(-age), now.Add(-age))
	}
	fs.MkdirAll("exports/search-dir", 0o755)

	got, err := Expired(fs, "exports", now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Expired: %v", err)
	}
	want := []string{"exports/old.csv", "exports/older.zip"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expired = %v, want %v", got, want)
	}

	if got, err := Expired(fs, "missing", now); err != nil || got != nil {
		t.Errorf("missing dir = %v, %v", got, err)
	}
}

func TestRemove_Missing(t *testing.T) {
	if err := Remove(afero.NewMemMapFs(), "exports/nope.csv"); err != nil {
		t.Errorf("Remove missing: %v", err)
	}
}

type fakeObjects struct {
	puts    map[string][]byte
	opts    map[string]minio.PutObjectOptions
	removed []string
	rmErr   error
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.puts[bucket+"/"+key] = b
	f.opts[bucket+"/"+key] = opts
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(b))}, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, bucket, key string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, bucket+"/"+key)
	return f.rmErr
}

func TestMirror_PublishAndRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "exports/d-1.csv", []byte("a,b\n1,2\n"), 0o644)
	objs := &fakeObjects{puts: map[string][]byte{}, opts: map[string]minio.PutObjectOptions{}}
	m := &Mirror{client: objs, bucket: "bkt", prefix: "datayard"}
	ctx := context.Background()

	if err := m.Publish(ctx, fs, "exports/d-1.csv"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if string(objs.puts["bkt/datayard/exports/d-1.csv"]) != "a,b\n1,2\n" {
		t.Errorf("puts = %v", objs.puts)
	}
	if ct := objs.opts["bkt/datayard/exports/d-1.csv"].ContentType; ct == "" {
		t.Error("no content type")
	}
	if err := m.Publish(ctx, fs, "exports/missing.csv"); err == nil {
		t.Error("expected error for missing file")
	}

	objs.rmErr = minio.ErrorResponse{Code: "NoSuchKey"}
	if err := m.Remove(ctx, "exports/d-1.csv"); err != nil {
		t.Errorf("Remove missing object: %v", err)
	}
	objs.rmErr = errors.New("denied")
	if err := m.Remove(ctx, "exports/d-1.csv"); err == nil {
		t.Error("expected error")
	}
}

func TestNewMirror(t *testing.T) {
	m, err := NewMirror(config.MirrorConfig{Endpoint: "localhost:9000", Bucket: "b", AccessKey: "k", SecretKey: "s"})
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	if m.key("exports/x.zip") != "exports/x.zip" {
		t.Errorf("key = %s", m.key("exports/x.zip"))
	}
}

package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// tarFixture builds an archive the way the daemon returns one for a copy
// request: a directory header plus regular file entries.
func tarFixture(t *testing.T, files map[string]string) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "secrets/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatalf("failed to write dir header: %v", err)
	}
	for name, body := range files {
		hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header for %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("failed to write body for %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to finalize archive: %v", err)
	}
	return io.NopCloser(&buf)
}

func TestCopyFileFromContainerExtractsEntry(t *testing.T) {
	api := &fakeAPI{
		copyFromContainerFn: func(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
			return tarFixture(t, map[string]string{
				"secrets/other.txt":   "noise",
				"secrets/config.json": `{"token":"abc"}`,
			}), container.PathStat{}, nil
		},
	}
	client := newTestClient(t, api)
	hostPath := filepath.Join(t.TempDir(), "out", "config.json")

	// the entry only matches on base name, not the full container path
	if err := client.CopyFileFromContainer(context.Background(), "c1", "/workspace/secrets/config.json", hostPath); err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	got, err := os.ReadFile(hostPath)
	if err != nil {
		t.Fatalf("failed to read copied file: %v", err)
	}
	if string(got) != `{"token":"abc"}` {
		t.Errorf("copied content = %q", got)
	}
}

func TestCopyFileFromContainerMissingEntry(t *testing.T) {
	api := &fakeAPI{
		copyFromContainerFn: func(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
			return tarFixture(t, map[string]string{"secrets/other.txt": "noise"}), container.PathStat{}, nil
		},
	}
	client := newTestClient(t, api)
	hostPath := filepath.Join(t.TempDir(), "config.json")

	err := client.CopyFileFromContainer(context.Background(), "c1", "/workspace/secrets/config.json", hostPath)
	if !apperrors.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found condition", err)
	}
	if _, statErr := os.Stat(hostPath); !os.IsNotExist(statErr) {
		t.Errorf("destination %s exists after failed copy", hostPath)
	}
}

func TestCopyFileFromContainerPathNotFound(t *testing.T) {
	api := &fakeAPI{
		copyFromContainerFn: func(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
			return nil, container.PathStat{}, errdefs.ErrNotFound
		},
	}
	client := newTestClient(t, api)

	err := client.CopyFileFromContainer(context.Background(), "c1", "/workspace/missing", filepath.Join(t.TempDir(), "missing"))
	if !apperrors.IsNotFound(err) {
		t.Errorf("error = %v, want not-found condition", err)
	}
}

package docker

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"go.uber.org/zap"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// CopyFileFromContainer copies a single file out of a container to hostPath.
// The daemon hands back a tar archive; it is spooled to a temp file, the
// entry matching containerPath (or its base name) is extracted, and the
// result is moved into place. Temp artifacts are removed on every path.
func (c *Client) CopyFileFromContainer(ctx context.Context, containerID, containerPath, hostPath string) error {
	rc, _, err := c.api.CopyFromContainer(ctx, containerID, containerPath)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return apperrors.NotFound("container path", containerPath)
		}
		return fmt.Errorf("failed to copy %s from container %s: %w", containerPath, containerID, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "agentdeck-copy-*.tar")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to spool archive from container %s: %w", containerID, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to rewind temp archive: %w", err)
	}
	defer tmp.Close()

	extracted, err := extractFileFromTar(tmp, filepath.Base(containerPath))
	if err != nil {
		return err
	}
	defer os.Remove(extracted)

	if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := copyFile(extracted, hostPath); err != nil {
		return err
	}

	c.logger.Debug("Copied file from container",
		zap.String("container_id", containerID),
		zap.String("container_path", containerPath),
		zap.String("host_path", hostPath))
	return nil
}

// extractFileFromTar writes the entry named baseName (exact match first,
// falling back to a base-name match) to a temp file and returns its path.
func extractFileFromTar(r io.Reader, baseName string) (string, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", apperrors.NotFound("archive entry", baseName)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if name != baseName && filepath.Base(name) != baseName {
			continue
		}

		out, err := os.CreateTemp("", "agentdeck-extract-*")
		if err != nil {
			return "", fmt.Errorf("failed to create temp file: %w", err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			os.Remove(out.Name())
			return "", fmt.Errorf("failed to extract %s: %w", baseName, err)
		}
		if err := out.Close(); err != nil {
			os.Remove(out.Name())
			return "", fmt.Errorf("failed to finalize %s: %w", baseName, err)
		}
		return out.Name(), nil
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	return nil
}

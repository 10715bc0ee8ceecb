// Package qr is the artifact collaborator: it renders and removes the PNG
// images that encode a mapping's resolvable short URL.
package qr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const artifactSize = 256 // px

// ArtifactStore renders QR codes into a local directory, one PNG per code.
// Rendering is lazy: EnsureArtifact is a no-op when the file already exists.
type ArtifactStore struct {
	dir    string
	logger *zap.Logger
}

func NewArtifactStore(dir string, logger *zap.Logger) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create QR artifact dir: %w", err)
	}
	return &ArtifactStore{dir: dir, logger: logger}, nil
}

func (s *ArtifactStore) EnsureArtifact(ctx context.Context, code, resolvableURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := s.path(code)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := qrcode.WriteFile(resolvableURL, qrcode.Medium, artifactSize, path); err != nil {
		return "", fmt.Errorf("failed to render QR artifact: %w", err)
	}

	s.logger.Info("rendered QR artifact",
		zap.String("code", code),
		zap.String("path", path),
	)

	return path, nil
}

func (s *ArtifactStore) InvalidateArtifact(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.path(code)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove QR artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStore) path(code string) string {
	return filepath.Join(s.dir, code+"_qrcode.png")
}

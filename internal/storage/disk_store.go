// Package storage keeps uploaded originals on local disk.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"printcalc/internal/domain"
	"printcalc/pkg/logger"

	"github.com/google/uuid"
)

// PublicPrefix is the URL path uploads are served under
const PublicPrefix = "/storage/temp-uploads"

var tenantFolderPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// DiskStore stores uploads as <root>/<tenant>/<unix>_<rand>.<ext>
type DiskStore struct {
	root          string
	publicBaseURL string
	clock         domain.Clock
	logger        *logger.Logger
}

// NewDiskStore creates a store rooted at root
func NewDiskStore(root, publicBaseURL string, clock domain.Clock, log *logger.Logger) *DiskStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DiskStore{
		root:          root,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		clock:         clock,
		logger:        log,
	}
}

// Root returns the upload directory
func (s *DiskStore) Root() string {
	return s.root
}

// Save writes the document under the tenant's folder. Tenants whose slug is
// not a safe folder name share the anonymous folder.
func (s *DiskStore) Save(ctx context.Context, tenant, fileName string, data []byte) (domain.StoredUpload, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoredUpload{}, err
	}

	folder := strings.ToLower(tenant)
	if !tenantFolderPattern.MatchString(folder) {
		folder = domain.AnonymousTenant
	}

	dir := filepath.Join(s.root, folder)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return domain.StoredUpload{}, fmt.Errorf("failed to create upload dir: %w", err)
	}

	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	name := fmt.Sprintf("%d_%s%s", s.clock.Now().Unix(), random, strings.ToLower(filepath.Ext(fileName)))

	if err := os.WriteFile(filepath.Join(dir, name), data, 0o640); err != nil {
		return domain.StoredUpload{}, fmt.Errorf("failed to write upload: %w", err)
	}

	relative := path.Join("temp-uploads", folder, name)
	return domain.StoredUpload{
		Path: relative,
		URL:  s.publicBaseURL + path.Join(PublicPrefix, folder, name),
		Name: fileName,
	}, nil
}

// Prune removes uploads last modified more than olderThan ago and returns
// how many files were deleted
func (s *DiskStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	deleted := 0

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == s.root {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				s.logger.WithError(err).WithField("path", p).Warn("Failed to remove expired upload")
				return nil
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("failed to prune uploads: %w", err)
	}

	if deleted > 0 {
		s.logger.WithFields(map[string]interface{}{
			"deleted":     deleted,
			"older_than":  olderThan.String(),
			"upload_root": s.root,
		}).Info("Pruned expired uploads")
	}
	return deleted, nil
}

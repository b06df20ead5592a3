package sync

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdstudy/mdstudy/internal/gitsource"
	"github.com/mdstudy/mdstudy/internal/storage"
)

// DetectSourceKind classifies a source path as "git" or "local".
func DetectSourceKind(path string) string {
	if strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") ||
		strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return "git"
	}
	return "local"
}

// RunSources reconciles every registered source. Git sources are cloned or
// pulled into reposDir first. Failure of one source never stops the rest.
func (r *Reconciler) RunSources(reposDir string) error {
	slog.Info("Starting sync process for all sources")
	sources, err := r.db.GetAllSources()
	if err != nil {
		return fmt.Errorf("failed to get sources: %w", err)
	}
	if len(sources) == 0 {
		slog.Info("No sources configured")
		return nil
	}

	if err := os.MkdirAll(reposDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create repos directory: %w", err)
	}

	for _, source := range sources {
		slog.Info("Syncing source", "id", source.ID, "kind", source.Kind, "path", source.Path)

		localPath := source.Path
		if source.Kind == "git" {
			var err error
			localPath, err = gitURLToLocalPath(reposDir, source.Path)
			if err != nil {
				slog.Error("Error determining local path for git repo", "url", source.Path, "error", err)
				continue
			}
			if err := gitsource.Sync(source.Path, localPath); err != nil {
				slog.Error("Error syncing git repo", "url", source.Path, "error", err)
				continue
			}
		}

		results, err := r.SyncDir(localPath)
		if err != nil {
			slog.Error("Error walking source directory", "path", localPath, "error", err)
			continue
		}

		var created, updated, deleted, errCount int
		for _, res := range results {
			created += res.Created
			updated += res.Updated
			deleted += res.Deleted
			errCount += len(res.Errors)
		}
		slog.Info("Reconciliation complete",
			"path", source.Path,
			"files", len(results),
			"created", created,
			"updated", updated,
			"deleted", deleted,
			"errors", errCount,
		)

		if err := r.db.UpdateSourceLastScanned(source.ID); err != nil {
			slog.Warn("Failed to update last scanned for source", "source_id", source.ID, "error", err)
		}
	}
	slog.Info("Sync process complete")
	return nil
}

// Store returns the reconciler's backing store.
func (r *Reconciler) Store() *storage.DB {
	return r.db
}

func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}

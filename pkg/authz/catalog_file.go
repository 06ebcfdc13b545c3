package authz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk form of a deployment catalog:
//
//	permissions:
//	  - id: 1
//	    resource: project
//	    action: create
//	    category: Projects
type catalogFile struct {
	Permissions []struct {
		ID       int64  `yaml:"id"`
		Resource string `yaml:"resource"`
		Action   string `yaml:"action"`
		Category string `yaml:"category"`
	} `yaml:"permissions"`
}

func parseCatalogFile(path string) ([]Permission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if len(file.Permissions) == 0 {
		return nil, fmt.Errorf("catalog file %s defines no permissions", path)
	}

	perms := make([]Permission, 0, len(file.Permissions))
	for _, p := range file.Permissions {
		perms = append(perms, Permission{
			ID:       p.ID,
			Resource: Resource(p.Resource),
			Action:   Action(p.Action),
			Category: p.Category,
		})
	}
	return perms, nil
}

// LoadCatalogFile builds a catalog from a YAML file. The file completely
// defines the deployment's permission vocabulary; use DefaultCatalog when no
// file is configured.
func LoadCatalogFile(path string) (*Catalog, error) {
	perms, err := parseCatalogFile(path)
	if err != nil {
		return nil, err
	}
	return NewCatalog(perms)
}

// ReloadFromFile re-reads path and swaps the catalog contents. On any error
// the previous snapshot stays live, so a bad edit never degrades the running
// service to an empty or partial catalog.
func (c *Catalog) ReloadFromFile(path string) error {
	perms, err := parseCatalogFile(path)
	if err != nil {
		return err
	}
	return c.Replace(perms)
}

// Watch reloads the catalog whenever the file at path changes, until ctx is
// cancelled. The parent directory is watched rather than the file itself so
// atomic rename-style saves are caught. onReload is invoked after every
// reload attempt with the result; the caller owns logging and metrics.
func (c *Catalog) Watch(ctx context.Context, path string, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch catalog directory %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reloadErr := c.ReloadFromFile(path)
			if onReload != nil {
				onReload(reloadErr)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onReload != nil {
				onReload(fmt.Errorf("catalog watcher error: %w", watchErr))
			}
		}
	}
}

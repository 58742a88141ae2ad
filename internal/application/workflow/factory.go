package workflow

import (
	"fmt"
	"os"

	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// LoadCatalog returns the canonical catalog, or the YAML catalog at path when path is set.
// Either one is validated before it is returned.
func LoadCatalog(path string) (*domainwf.Catalog, error) {
	if path == "" {
		return domainwf.DefaultCatalog()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()

	catalog, err := domainwf.LoadCatalogYAML(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return catalog, nil
}

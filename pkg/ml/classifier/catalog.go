package classifier

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Catalog carries deployment defaults for classifier parameters. Caller
// supplied keys always win.
type Catalog struct {
	Classifiers map[string]map[string]interface{} `yaml:"classifiers" json:"classifiers"`
}

func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return Catalog{}, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Catalog{}, err
	}

	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	for name := range cat.Classifiers {
		if !Known(name) {
			return Catalog{}, fmt.Errorf("catalog: %w: %q", ErrUnknownType, name)
		}
	}
	return cat, nil
}

// Params overlays caller params on the catalog defaults for name.
func (c Catalog) Params(name string, params map[string]interface{}) map[string]interface{} {
	defaults := c.Classifiers[name]
	if len(defaults) == 0 {
		return params
	}
	merged := make(map[string]interface{}, len(defaults)+len(params))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

// New constructs name with catalog defaults applied.
func (c Catalog) New(name string, params map[string]interface{}) (Classifier, error) {
	if !Known(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return New(name, c.Params(name, params))
}

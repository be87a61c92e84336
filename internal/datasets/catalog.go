package datasets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v2"
)

type Dataset struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
}

type catalogFile struct {
	Datasets []Dataset `yaml:"datasets"`
}

// Catalog is the set of datasets jobs may train on. Dataset paths are
// relative to the catalog root.
type Catalog struct {
	root     string
	datasets []Dataset
}

// LoadCatalog reads the YAML catalog at path. If path is empty every
// directory under root is a dataset named after the directory.
func LoadCatalog(root, path string) (*Catalog, error) {
	if path == "" {
		return ScanCatalog(root)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading dataset catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing dataset catalog: %w", err)
	}

	return NewCatalog(root, file.Datasets)
}

func ScanCatalog(root string) (*Catalog, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("dataset root does not exist, catalog is empty", "root", root)
			return NewCatalog(root, nil)
		}
		return nil, fmt.Errorf("error scanning dataset root: %w", err)
	}

	datasets := []Dataset{}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			datasets = append(datasets, Dataset{Name: entry.Name(), Path: entry.Name()})
		}
	}

	return NewCatalog(root, datasets)
}

func NewCatalog(root string, datasets []Dataset) (*Catalog, error) {
	seen := map[string]bool{}
	cleaned := make([]Dataset, 0, len(datasets))

	for _, d := range datasets {
		if d.Name == "" {
			return nil, fmt.Errorf("dataset catalog contains an entry without a name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("dataset %q is listed more than once", d.Name)
		}
		seen[d.Name] = true

		if d.Path == "" {
			d.Path = d.Name
		}
		d.Path = filepath.Clean(d.Path)
		if filepath.IsAbs(d.Path) || d.Path == ".." || strings.HasPrefix(d.Path, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("dataset %q must use a path inside the dataset root", d.Name)
		}

		cleaned = append(cleaned, d)
	}

	slices.SortFunc(cleaned, func(a, b Dataset) int { return strings.Compare(a.Name, b.Name) })

	return &Catalog{root: root, datasets: cleaned}, nil
}

func (c *Catalog) Lookup(name string) (Dataset, bool) {
	for _, d := range c.datasets {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}

// Dir returns the directory holding the dataset's train and test splits.
func (c *Catalog) Dir(d Dataset) string {
	return filepath.Join(c.root, d.Path)
}

func (c *Catalog) List() []Dataset {
	return slices.Clone(c.datasets)
}

package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// SystemDir holds the index and the spool of a project.
	SystemDir = ".reindex"
	// MappingFile is the YAML mapping at the project root.
	MappingFile = "reindex.yaml"
	// RecordsFile is the YAML record store at the project root.
	RecordsFile = "records.yaml"

	indexFile = "index.json"
	spoolDir  = "spool"
)

// FindRoot looks upwards from startDir for a project root, marked by a
// .reindex directory or a reindex.yaml file.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, SystemDir) || hasFile(dir, MappingFile) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no %s or %s found above %s", MappingFile, SystemDir, abs)
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// Layout lists the files of a project rooted at root.
type Layout struct {
	Root    string
	Mapping string
	Records string
	Index   string
	Spool   string
}

// ProjectLayout returns the conventional layout under root.
func ProjectLayout(root string) Layout {
	return Layout{
		Root:    root,
		Mapping: filepath.Join(root, MappingFile),
		Records: filepath.Join(root, RecordsFile),
		Index:   filepath.Join(root, SystemDir, indexFile),
		Spool:   filepath.Join(root, SystemDir, spoolDir),
	}
}

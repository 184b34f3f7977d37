package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cachesim/cachesim/sim/tree"
)

// LoadFile reads an experiment descriptor file and returns its experiments in
// file order. The format is chosen by extension: .yaml/.yml or .hcl.
func LoadFile(path string) ([]*tree.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor: %w", err)
	}
	var trees []*tree.Tree
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		trees, err = ParseYAML(data)
	case ".hcl":
		trees, err = ParseHCL(data, path)
	default:
		return nil, fmt.Errorf("descriptor %s: unsupported extension %q (want .yaml, .yml or .hcl)", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", path, err)
	}
	logrus.Debugf("loaded %d experiment(s) from %s", len(trees), path)
	return trees, nil
}

// LoadFiles loads every descriptor in order and appends each experiment to q.
// Returns the number of experiments appended.
func LoadFiles(q *Queue, paths []string) (int, error) {
	n := 0
	for _, p := range paths {
		trees, err := LoadFile(p)
		if err != nil {
			return n, err
		}
		for _, t := range trees {
			q.Append(t)
			n++
		}
	}
	return n, nil
}

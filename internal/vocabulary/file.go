package vocabulary

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileLoader reads a YAML document of the form
//
//	openTags:
//	  - AHV Networking
//	closeTags:
//	  - Upgrade
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary file: %w", err)
	}

	var doc struct {
		OpenTags  []string `yaml:"openTags"`
		CloseTags []string `yaml:"closeTags"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse vocabulary file %s: %w", l.Path, err)
	}

	snap := NewSnapshot(doc.OpenTags, doc.CloseTags)
	snap.Source = "file:" + l.Path
	return snap, nil
}

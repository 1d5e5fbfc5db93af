package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwebster45206/episode-engine/pkg/episode"
	"gopkg.in/yaml.v3"
)

// Episode catalog operations (filesystem-backed)

// LoadCatalog reads every .json, .yaml and .yml file under dir. A file holds either one
// definition or a list of them. Unreadable files are logged and skipped; invalid episodes
// are rejected individually and returned alongside the catalog.
func LoadCatalog(dir string, logger *slog.Logger) (*episode.Catalog, []error, error) {
	defs, err := ReadDefinitions(dir, logger)
	if err != nil {
		return nil, nil, err
	}

	catalog, rejected := episode.NewCatalog(defs)
	for _, rerr := range rejected {
		logger.Warn("Rejected episode definition", "error", rerr)
	}
	logger.Info("Episode catalog loaded", "dir", dir, "episodes", catalog.Len(), "rejected", len(rejected))
	return catalog, rejected, nil
}

// ReadDefinitions decodes all definition files under dir without validating them.
func ReadDefinitions(dir string, logger *slog.Logger) ([]episode.Definition, error) {
	var defs []episode.Definition

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isDefinitionFile(path) {
			return nil
		}

		file, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Failed to read episode file", "path", path, "error", err)
			return nil
		}

		found, err := DecodeDefinitions(path, file)
		if err != nil {
			logger.Warn("Failed to unmarshal episode file", "path", path, "error", err)
			return nil
		}
		logger.Debug("Loaded episode file", "path", path, "episodes", len(found))
		defs = append(defs, found...)
		return nil
	})
	if err != nil {
		logger.Error("Failed to walk catalog directory", "dir", dir, "error", err)
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return defs, nil
}

// DecodeDefinitions decodes one file's contents; the format follows the file extension.
func DecodeDefinitions(path string, data []byte) ([]episode.Definition, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return decodeJSON(data)
	}
	return decodeYAML(data)
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func decodeJSON(data []byte) ([]episode.Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var defs []episode.Definition
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, err
		}
		return defs, nil
	}
	var def episode.Definition
	if err := json.Unmarshal(trimmed, &def); err != nil {
		return nil, err
	}
	return []episode.Definition{def}, nil
}

func decodeYAML(data []byte) ([]episode.Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode {
		var defs []episode.Definition
		if err := root.Decode(&defs); err != nil {
			return nil, err
		}
		return defs, nil
	}
	var def episode.Definition
	if err := root.Decode(&def); err != nil {
		return nil, err
	}
	return []episode.Definition{def}, nil
}

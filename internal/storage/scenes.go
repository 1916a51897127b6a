package storage

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

// SceneFile is the on-disk shape of data/scenes/<id>.json: the entities a
// host places when it starts.
type SceneFile struct {
	Name     string         `json:"name"`
	Entities []scene.Entity `json:"entities"`
}

// Scene operations (filesystem-backed)

// ListScenes maps scene names to their IDs. Unreadable files are skipped.
func ListScenes(dataDir string, logger *slog.Logger) (map[string]string, error) {
	scenesDir := filepath.Join(dataDir, "scenes")
	scenes := make(map[string]string)

	err := filepath.WalkDir(scenesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		file, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Failed to read scene file", "path", path, "error", err)
			return nil
		}

		var s SceneFile
		if err := json.Unmarshal(file, &s); err != nil {
			logger.Warn("Failed to unmarshal scene file", "path", path, "error", err)
			return nil
		}

		id := strings.TrimSuffix(filepath.Base(path), ".json")
		if s.Name == "" {
			s.Name = id
		}
		scenes[s.Name] = id
		return nil
	})
	if err != nil {
		logger.Error("Failed to walk scenes directory", "error", err)
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}

	return scenes, nil
}

// LoadScene reads data/scenes/<sceneID>.json. A missing file yields an empty
// scene so a host can start bare and have entities placed over HTTP.
func LoadScene(dataDir, sceneID string, logger *slog.Logger) (*scene.Scene, error) {
	path := filepath.Join(dataDir, "scenes", sceneID+".json")
	logger.Debug("Loading scene", "scene_id", sceneID, "full_path", path)

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("Scene file not found, starting empty", "path", path)
			return scene.New(), nil
		}
		return nil, fmt.Errorf("failed to read scene file: %w", err)
	}

	var s SceneFile
	if err := json.Unmarshal(file, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scene: %w", err)
	}

	out := scene.New()
	for i, e := range s.Entities {
		if err := out.Upsert(e); err != nil {
			return nil, fmt.Errorf("scene %s entity %d: %w", sceneID, i, err)
		}
	}
	return out, nil
}

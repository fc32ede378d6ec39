package backup

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// catalogFile is the persisted index of known backup artifacts, one per
// backup directory.
const catalogFile = "catalog.json"

type catalogDocument struct {
	Backups   []Info    `json:"backups"`
	UpdatedAt time.Time `json:"updated_at"`
}

// loadCatalog reads the catalog from dir. A missing file or missing
// directory reinitializes an empty catalog. Completed entries whose artifact
// no longer exists on disk are dropped; failed runs carry no artifact and
// are kept as history.
func loadCatalog(dir string) ([]Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, catalogFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup catalog: %w", err)
	}

	var doc catalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing backup catalog: %w", err)
	}

	kept := make([]Info, 0, len(doc.Backups))
	for _, info := range doc.Backups {
		if info.Path != "" {
			if _, err := os.Stat(info.Path); err != nil {
				slog.Warn("dropping catalog entry with missing artifact", "id", info.ID, "path", info.Path)
				continue
			}
		}
		kept = append(kept, info)
	}
	return kept, nil
}

// saveCatalog rewrites the catalog atomically: write to a temp file in the
// same directory, then rename over the old one.
func saveCatalog(dir string, backups []Info) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	doc := catalogDocument{Backups: backups, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding backup catalog: %w", err)
	}

	tmp, err := os.CreateTemp(dir, catalogFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating catalog temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing catalog temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing catalog temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, catalogFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing backup catalog: %w", err)
	}
	return nil
}

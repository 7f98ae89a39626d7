package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/MeKo-Tech/elevationmap/internal/index"
)

var reCheckpoint = regexp.MustCompile(`\.checkpoint-(\d+)\.json$`)

// checkpointPath names a checkpoint side file; the extracted-tile
// count is encoded in the name so the most recent one sorts last.
func checkpointPath(indexPath string, count int) string {
	return fmt.Sprintf("%s.checkpoint-%08d.json", indexPath, count)
}

// writeCheckpoint persists the in-progress index next to the target
// file.
func writeCheckpoint(ix *index.Index, indexPath string, count int) error {
	return index.Save(ix, checkpointPath(indexPath, count))
}

// latestCheckpoint loads the checkpoint with the highest count, or
// returns nil when none exist.
func latestCheckpoint(indexPath string) (*index.Index, string, error) {
	matches, err := filepath.Glob(indexPath + ".checkpoint-*.json")
	if err != nil {
		return nil, "", err
	}
	type ckpt struct {
		path  string
		count int
	}
	var found []ckpt
	for _, m := range matches {
		sm := reCheckpoint.FindStringSubmatch(m)
		if sm == nil {
			continue
		}
		n, _ := strconv.Atoi(sm[1])
		found = append(found, ckpt{path: m, count: n})
	}
	if len(found) == 0 {
		return nil, "", nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].count < found[j].count })
	best := found[len(found)-1]
	ix, err := index.Load(best.path)
	if err != nil {
		return nil, "", fmt.Errorf("builder: loading checkpoint %s: %w", best.path, err)
	}
	return ix, best.path, nil
}

// clearCheckpoints removes all checkpoint side files for an index.
func clearCheckpoints(indexPath string) {
	matches, _ := filepath.Glob(indexPath + ".checkpoint-*.json")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// knownKeys collects every tile key already present in an index, so a
// resumed run can subtract them from the enumeration.
func knownKeys(ix *index.Index) map[string]bool {
	keys := make(map[string]bool, ix.TotalTileCount)
	for _, coll := range ix.Collections {
		for _, camp := range coll.Campaigns {
			for _, f := range camp.Files {
				keys[f.Key] = true
			}
		}
	}
	return keys
}

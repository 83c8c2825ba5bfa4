package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// sqliteSidecars are the files SQLite keeps beside the ledger in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm"}

// Usage is the on-disk footprint of a deployment.
type Usage struct {
	Stores  int64            `json:"stores_bytes"`
	Tenants map[string]int64 `json:"tenants,omitempty"`
	Ledger  int64            `json:"ledger_bytes"`
	Cache   int64            `json:"cache_bytes"`
	Total   int64            `json:"total_bytes"`
}

// MeasureUsage sizes the tenant store root, the ledger with its sidecars, and
// the disk embedding cache. Empty or missing paths count as zero.
func MeasureUsage(dataDir, ledgerPath, cachePath string) (*Usage, error) {
	u := &Usage{Tenants: map[string]int64{}}
	entries, err := os.ReadDir(dataDir)
	if err != nil && !os.IsNotExist(err) && dataDir != "" {
		return nil, err
	}
	for _, e := range entries {
		n, err := pathSize(filepath.Join(dataDir, e.Name()))
		if err != nil {
			return nil, err
		}
		if e.IsDir() {
			u.Tenants[e.Name()] = n
		}
		u.Stores += n
	}
	if ledgerPath != "" {
		for _, suffix := range append([]string{""}, sqliteSidecars...) {
			n, err := pathSize(ledgerPath + suffix)
			if err != nil {
				return nil, err
			}
			u.Ledger += n
		}
	}
	if u.Cache, err = pathSize(cachePath); err != nil {
		return nil, err
	}
	u.Total = u.Stores + u.Ledger + u.Cache
	return u, nil
}

// LargestTenants returns up to n tenant IDs ordered by descending size.
func (u *Usage) LargestTenants(n int) []string {
	ids := make([]string, 0, len(u.Tenants))
	for id := range u.Tenants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if u.Tenants[ids[i]] != u.Tenants[ids[j]] {
			return u.Tenants[ids[i]] > u.Tenants[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if n >= 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

func pathSize(path string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

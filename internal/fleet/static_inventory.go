package fleet

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/olavhq/olav/internal/olaverr"
)

// deviceRecord is the on-disk shape of one inventory entry.
type deviceRecord struct {
	Name           string            `json:"name"`
	Address        string            `json:"address"`
	Platform       string            `json:"platform"`
	CredentialsRef string            `json:"credentials_ref"`
	Groups         []string          `json:"groups"`
	Attributes     map[string]string `json:"attributes"`
}

// StaticInventory is the default InventoryProvider: a JSON file of device
// records (spec §6 names "the inventory-of-record system" as an external
// collaborator out of scope to build; this is the local, file-backed
// implementation a standalone olav process uses in its place). The file is
// re-read on every Lookup so external edits take effect without a reload
// cycle, matching the interface's "reasonably current view" contract.
type StaticInventory struct {
	mu   sync.Mutex
	path string
}

// NewStaticInventory builds a StaticInventory backed by path.
func NewStaticInventory(path string) *StaticInventory {
	return &StaticInventory{path: path}
}

// Lookup reads and parses the inventory file. A missing file is treated as
// an empty inventory rather than an error, so a fresh agent directory
// starts clean.
func (s *StaticInventory) Lookup(ctx context.Context) ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, olaverr.Wrap(olaverr.Internal, "read inventory file "+s.path, err)
	}

	var records []deviceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, olaverr.Wrap(olaverr.ParseFailed, "parse inventory file "+s.path, err)
	}

	devices := make([]Device, 0, len(records))
	for _, r := range records {
		devices = append(devices, Device{
			Name:           r.Name,
			Address:        r.Address,
			Platform:       r.Platform,
			CredentialsRef: r.CredentialsRef,
			Groups:         r.Groups,
			Attributes:     r.Attributes,
		})
	}
	return devices, nil
}

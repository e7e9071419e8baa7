// Copyright 2024 The Erigon Authors
// (original work)
// Copyright 2026 The Merge Recovery Authors
// (modifications)
// This file is part of Merge Recovery.
//
// Merge Recovery is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Merge Recovery is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Merge Recovery. If not, see <http://www.gnu.org/licenses/>.

package keyspace

import (
	"encoding/json"
	"fmt"
	"os"
)

// routeFileEntry is the on-disk JSON shape for one routing-table entry: a
// half-open range and its owner, within one group.
type routeFileEntry struct {
	Group  uint32 `json:"group"`
	Lo     string `json:"lo"`
	Hi     string `json:"hi"`
	Host   string `json:"host"`
	Port   uint16 `json:"port"`
	Family uint8  `json:"family"`
}

// LoadRoutesJSON reads a routing-table snapshot from path: a JSON array of
// {group, lo, hi, host, port, family} entries. The real routing-table
// acquisition (talking to the cluster's own metadata service) is an
// external collaborator per spec.md §1; this loader is the file-based
// stand-in the CLI uses to obtain one.
func LoadRoutesJSON(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyspace: read routes %s: %w", path, err)
	}

	var entries []routeFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("keyspace: parse routes %s: %w", path, err)
	}

	rt := NewRouteTable()
	for _, e := range entries {
		lo, err := ParseKeyId(e.Lo)
		if err != nil {
			return nil, fmt.Errorf("keyspace: route lo: %w", err)
		}
		hi, err := ParseKeyId(e.Hi)
		if err != nil {
			return nil, fmt.Errorf("keyspace: route hi: %w", err)
		}
		owner := NodeAddress{Host: e.Host, Port: e.Port, Family: e.Family}
		if err := rt.Insert(e.Group, HashRange{Lo: lo, Hi: hi}, owner); err != nil {
			return nil, fmt.Errorf("keyspace: insert route: %w", err)
		}
	}
	return rt, nil
}

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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLoadRoutesJSONPreservesFamily checks that the address family read
// from the routes file survives into the NodeAddress owner, since
// NodeAddress.Equal compares Family and a dropped family would silently
// break every same-host:port owner match (spec.md §4.1 RESOLVE_OWNER,
// one-node-mode group matching).
func TestLoadRoutesJSONPreservesFamily(t *testing.T) {
	lo := IdMin
	hi := IdMax
	path := filepath.Join(t.TempDir(), "routes.json")
	doc := `[{"group":1,"lo":"` + lo.String() + `","hi":"` + hi.String() + `","host":"node-a","port":1025,"family":2}]`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rt, err := LoadRoutesJSON(path)
	require.NoError(t, err)

	owner, ok := rt.LookupAddress(1, key(0x01))
	require.True(t, ok)
	require.Equal(t, NodeAddress{Host: "node-a", Port: 1025, Family: 2}, owner)
}

// TestLoadRoutesJSONDefaultsFamilyZero documents that an entry omitting
// "family" loads as Family: 0, matching the zero value of the JSON field.
func TestLoadRoutesJSONDefaultsFamilyZero(t *testing.T) {
	lo := IdMin
	hi := IdMax
	path := filepath.Join(t.TempDir(), "routes.json")
	doc := `[{"group":1,"lo":"` + lo.String() + `","hi":"` + hi.String() + `","host":"node-a","port":1025}]`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rt, err := LoadRoutesJSON(path)
	require.NoError(t, err)

	owner, ok := rt.LookupAddress(1, key(0x01))
	require.True(t, ok)
	require.Equal(t, uint8(0), owner.Family)
}

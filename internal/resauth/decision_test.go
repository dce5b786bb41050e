// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package resauth

import "testing"

// TestDecide_RoleAlgebra exercises the full role/privilege decision matrix:
// {Owner, Peer, Other} x {Read, Write, Security} x {priv<, priv=, priv>}.
func TestDecide_RoleAlgebra(t *testing.T) {
	perm := Permission{Owner: "rw", Peer: "r-", Other: "--"}

	cases := []struct {
		name      string
		requester Requester
		owner     Owner
		op        Op
		want      bool
	}{
		{"owner read priv=", Requester{UUID: 1, Privilege: 5}, Owner{UUID: 1, Privilege: 5}, OpRead, true},
		{"owner write priv=", Requester{UUID: 1, Privilege: 5}, Owner{UUID: 1, Privilege: 5}, OpWrite, true},
		{"owner security priv=", Requester{UUID: 1, Privilege: 5}, Owner{UUID: 1, Privilege: 5}, OpSecurity, true},

		{"peer read priv=", Requester{UUID: 2, Privilege: 5}, Owner{UUID: 1, Privilege: 5}, OpRead, true},
		{"peer write priv= denied by perm", Requester{UUID: 2, Privilege: 5}, Owner{UUID: 1, Privilege: 5}, OpWrite, false},
		{"peer security priv= denied (not owner, not root)", Requester{UUID: 2, Privilege: 5}, Owner{UUID: 1, Privilege: 5}, OpSecurity, false},

		{"other read priv< denied by perm", Requester{UUID: 3, Privilege: 2}, Owner{UUID: 1, Privilege: 5}, OpRead, false},
		{"other read priv> overrides", Requester{UUID: 3, Privilege: 9}, Owner{UUID: 1, Privilege: 5}, OpRead, true},
		{"other write priv> overrides", Requester{UUID: 3, Privilege: 9}, Owner{UUID: 1, Privilege: 5}, OpWrite, true},
		{"other security priv> still denied (not owner, not root)", Requester{UUID: 3, Privilege: 9}, Owner{UUID: 1, Privilege: 5}, OpSecurity, false},

		{"root security always granted", Requester{UUID: 1, Privilege: 0}, Owner{UUID: 99, Privilege: 100}, OpSecurity, true},
		{"other priv< read denied", Requester{UUID: 3, Privilege: 1}, Owner{UUID: 1, Privilege: 5}, OpRead, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Decide(c.requester, c.owner, perm, c.op)
			if got != c.want {
				t.Errorf("Decide(%+v, %+v, %v, %v) = %v, want %v", c.requester, c.owner, perm, c.op, got, c.want)
			}
		})
	}
}

func TestDecisionCache_ScopedPerOp(t *testing.T) {
	c := newDecisionCache()
	c.put("uid-a", OpRead, true)
	c.put("uid-a", OpWrite, false)

	if v, ok := c.get("uid-a", OpRead); !ok || !v {
		t.Fatalf("got (%v,%v), want (true,true)", v, ok)
	}
	if v, ok := c.get("uid-a", OpWrite); !ok || v {
		t.Fatalf("got (%v,%v), want (false,true)", v, ok)
	}
	if _, ok := c.get("uid-a", OpSecurity); ok {
		t.Fatal("expected miss for an op never cached")
	}
	if _, ok := c.get("uid-b", OpRead); ok {
		t.Fatal("expected miss for a uid never cached")
	}
}

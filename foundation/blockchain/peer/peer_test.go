package peer_test

import (
	"testing"

	"github.com/orecoin/orecoin/foundation/blockchain/peer"
)

func Test_CRUD(t *testing.T) {
	type table struct {
		name  string
		peers []peer.Peer
	}

	tt := []table{
		{
			name:  "basic",
			peers: []peer.Peer{{Host: "host1"}, {Host: "host2"}, {Host: "host3"}},
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			ps := peer.NewPeerSet()

			for _, p := range tst.peers {
				if !ps.Add(p) {
					t.Fatalf("Test %s:\tShould be able to add a new peer.", tst.name)
				}
			}

			if ps.Add(tst.peers[0]) {
				t.Fatalf("Test %s:\tShould not add the same peer twice.", tst.name)
			}

			if got := ps.Count(); got != len(tst.peers) {
				t.Logf("Test %s:\tgot: %d", tst.name, got)
				t.Logf("Test %s:\texp: %d", tst.name, len(tst.peers))
				t.Fatalf("Test %s:\tShould count the right peers.", tst.name)
			}

			peers := ps.Copy("")
			if len(peers) != len(tst.peers) {
				t.Logf("Test %s:\tgot: %d", tst.name, len(peers))
				t.Logf("Test %s:\texp: %d", tst.name, len(tst.peers))
				t.Fatalf("Test %s:\tShould get back the right peers.", tst.name)
			}

			peers = ps.Copy("host2")
			if len(peers) != len(tst.peers)-1 {
				t.Logf("Test %s:\tgot: %d", tst.name, len(peers))
				t.Logf("Test %s:\texp: %d", tst.name, len(tst.peers)-1)
				t.Fatalf("Test %s:\tShould exclude the specified host.", tst.name)
			}

			ps.Remove(tst.peers[0])
			if got := ps.Count(); got != len(tst.peers)-1 {
				t.Fatalf("Test %s:\tShould be able to remove a peer.", tst.name)
			}
		}

		t.Run(tst.name, f)
	}
}

package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/state"
)

func Test_Reorganization(t *testing.T) {
	alicePK, alice := loadKey(t, aliceHexKey)
	bobPK, bob := loadKey(t, bobHexKey)

	balances := map[string]uint64{
		string(alice): 1000,
		string(bob):   1000,
	}

	t.Log("Given the need to reorganize onto a branch with more work.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a two block branch beats a one block chain.", testID)
		{
			// Node A mines one block, node B mines two on its own fork.
			// B's first block spends the same output A confirmed, so A's
			// transaction cannot return to the pool after the switch.
			stA := newTestState(t, minerA, balances)
			stB := newTestState(t, minerB, balances)

			txA := buildSpend(t, stA, alicePK, alice, carol, 100, 10)
			if err := stA.UpsertWalletTransaction(txA); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit tx on node A: %v", failed, testID, err)
			}
			if _, err := stA.MineNewBlock(context.Background()); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine on node A: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to mine block 1 on node A.", success, testID)

			txB1 := buildSpend(t, stB, alicePK, alice, carol, 200, 20)
			if err := stB.UpsertWalletTransaction(txB1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit tx on node B: %v", failed, testID, err)
			}
			blockB1, err := stB.MineNewBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine block 1 on node B: %v", failed, testID, err)
			}

			txB2 := buildSpend(t, stB, bobPK, bob, carol, 50, 5)
			if err := stB.UpsertWalletTransaction(txB2); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit second tx on node B: %v", failed, testID, err)
			}
			blockB2, err := stB.MineNewBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine block 2 on node B: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to mine two blocks on node B.", success, testID)

			// The child arrives first. Its parent is unknown so it can only
			// be cached.
			err = stA.ProcessPeerBlock(database.NewBlockData(blockB2))
			if !errors.Is(err, state.ErrOrphanBlock) {
				t.Fatalf("\t%s\tTest %d:\tShould cache the parentless block, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould cache the parentless block.", success, testID)

			// The parent alone carries the same work as A's chain, so it
			// must not displace it.
			err = stA.ProcessPeerBlock(database.NewBlockData(blockB1))
			if !errors.Is(err, state.ErrNotEnoughWork) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the chain on equal work, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the chain on equal work.", success, testID)

			// Re-announcing the child completes the branch and tips the
			// work balance.
			if err := stA.ProcessPeerBlock(database.NewBlockData(blockB2)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould reorganize onto the branch: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reorganize onto the branch.", success, testID)

			if got, exp := stA.RetrieveLatestBlock().Hash(), blockB2.Hash(); got != exp {
				t.Fatalf("\t%s\tTest %d:\tShould adopt the branch tip.", failed, testID)
			}
			if got, exp := stA.QueryStatus().Height, uint64(2); got != exp {
				t.Fatalf("\t%s\tTest %d:\tShould be at height %d, got %d.", failed, testID, exp, got)
			}
			t.Logf("\t%s\tTest %d:\tShould adopt the branch tip at height 2.", success, testID)

			finals := map[database.AccountID]database.Unit{
				alice:  780,
				bob:    945,
				carol:  250,
				minerA: 0,
				minerB: 1425,
			}
			for address, exp := range finals {
				if got := stA.QueryBalance(address); got != exp {
					t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, got)
					t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, exp)
					t.Fatalf("\t%s\tTest %d:\tShould have the branch balance for %s.", failed, testID, address)
				}
				t.Logf("\t%s\tTest %d:\tShould have the branch balance for %s.", success, testID, address)
			}

			// txA lost its input to the branch, so it must not resurface.
			if got := stA.MempoolCount(); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould drop the conflicting reverted tx, pool %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould drop the conflicting reverted tx.", success, testID)

			// Both nodes now agree on the ledger.
			if got, exp := stA.QueryStatus().LatestBlockHash, stB.QueryStatus().LatestBlockHash; got != exp {
				t.Fatalf("\t%s\tTest %d:\tShould converge with node B.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould converge with node B.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen a reverted transaction stays valid on the branch.", testID)
		{
			// Here B's branch only moves bob's funds, so A's reverted spend
			// of alice's output belongs back in the pool.
			stA := newTestState(t, minerA, balances)
			stB := newTestState(t, minerB, balances)

			txA := buildSpend(t, stA, alicePK, alice, carol, 100, 10)
			if err := stA.UpsertWalletTransaction(txA); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit tx on node A: %v", failed, testID, err)
			}
			if _, err := stA.MineNewBlock(context.Background()); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine on node A: %v", failed, testID, err)
			}

			txB1 := buildSpend(t, stB, bobPK, bob, carol, 200, 20)
			if err := stB.UpsertWalletTransaction(txB1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit tx on node B: %v", failed, testID, err)
			}
			blockB1, err := stB.MineNewBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine block 1 on node B: %v", failed, testID, err)
			}

			txB2 := buildSpend(t, stB, bobPK, bob, carol, 50, 5)
			if err := stB.UpsertWalletTransaction(txB2); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit second tx on node B: %v", failed, testID, err)
			}
			blockB2, err := stB.MineNewBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine block 2 on node B: %v", failed, testID, err)
			}

			if err := stA.ProcessPeerBlock(database.NewBlockData(blockB1)); !errors.Is(err, state.ErrNotEnoughWork) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the chain on equal work, got: %v", failed, testID, err)
			}
			if err := stA.ProcessPeerBlock(database.NewBlockData(blockB2)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould reorganize onto the branch: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reorganize onto the branch.", success, testID)

			if got := stA.MempoolCount(); got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould reinject the reverted tx, pool %d.", failed, testID, got)
			}
			pending := stA.RetrieveMempool()
			if pending[0].ID != txA.ID {
				t.Fatalf("\t%s\tTest %d:\tShould reinject the original transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reinject the reverted tx into the pool.", success, testID)
		}
	}
}

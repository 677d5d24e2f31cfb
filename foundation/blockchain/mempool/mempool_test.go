package mempool_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/mempool"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// makeTx builds an unsigned transaction spending the specified outpoint. The
// mempool never checks proofs so signing is not needed here.
func makeTx(spendTxID string, spendIndex uint32, to database.AccountID, fee database.Unit, timeStamp uint64) database.Tx {
	tx := database.NewTx(
		[]database.TxInput{{TxID: spendTxID, OutputIndex: spendIndex}},
		[]database.TxOutput{{Address: to, Amount: 100, LockCondition: string(to)}},
	)
	tx.Fee = fee
	tx.TimeStamp = timeStamp

	return tx
}

func Test_CRUD(t *testing.T) {
	to := database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")

	t.Log("Given the need to manage pending transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen adding, removing and truncating.", testID)
		{
			mp, err := mempool.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct mempool: %v", failed, testID, err)
			}

			txs := []database.Tx{
				makeTx("0xaa", 0, to, 10, 1),
				makeTx("0xbb", 0, to, 50, 2),
				makeTx("0xcc", 0, to, 100, 3),
			}

			for i, tx := range txs {
				n, err := mp.Add(tx)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to add transaction: %v", failed, testID, err)
				}
				if n != i+1 {
					t.Fatalf("\t%s\tTest %d:\tShould report %d transactions, got %d.", failed, testID, i+1, n)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould be able to add transactions.", success, testID)

			mp.Delete(txs[1])
			if got := mp.Count(); got != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould be able to remove a transaction, count %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to remove a transaction.", success, testID)

			if _, held := mp.SpenderOf(database.Outpoint{TxID: "0xbb", Index: 0}); held {
				t.Fatalf("\t%s\tTest %d:\tShould release the reservation with the transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould release the reservation with the transaction.", success, testID)

			mp.Truncate()
			if got := mp.Count(); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould be able to truncate mempool, count %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to truncate mempool.", success, testID)
		}
	}
}

func Test_Reservations(t *testing.T) {
	to := database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")

	t.Log("Given the need to keep two pending spends off the same output.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a second transaction spends a reserved outpoint.", testID)
		{
			mp, err := mempool.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct mempool: %v", failed, testID, err)
			}

			first := makeTx("0xaa", 0, to, 10, 1)
			if _, err := mp.Add(first); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to add the first spend: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to add the first spend.", success, testID)

			conflict := makeTx("0xaa", 0, to, 99, 2)
			if _, err := mp.Add(conflict); !errors.Is(err, mempool.ErrOutpointReserved) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the conflicting spend, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the conflicting spend.", success, testID)

			if spender, held := mp.SpenderOf(database.Outpoint{TxID: "0xaa", Index: 0}); !held || spender != first.ID {
				t.Fatalf("\t%s\tTest %d:\tShould keep the reservation on the first spend.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the reservation on the first spend.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the same transaction is added twice.", testID)
		{
			mp, err := mempool.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct mempool: %v", failed, testID, err)
			}

			tx := makeTx("0xaa", 0, to, 10, 1)
			if _, err := mp.Add(tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to add the transaction: %v", failed, testID, err)
			}

			if _, err := mp.Add(tx); !errors.Is(err, mempool.ErrDuplicate) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the duplicate, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the duplicate.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen a confirmed block consumes a reserved outpoint.", testID)
		{
			mp, err := mempool.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct mempool: %v", failed, testID, err)
			}

			tx := makeTx("0xaa", 0, to, 10, 1)
			if _, err := mp.Add(tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to add the transaction: %v", failed, testID, err)
			}

			mp.DeleteByOutpoint(database.Outpoint{TxID: "0xaa", Index: 0})
			if got := mp.Count(); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould evict the pending spender, count %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould evict the pending spender.", success, testID)
		}
	}
}

func Test_PickBest(t *testing.T) {
	to := database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")

	t.Log("Given the need to pick the best paying transactions for a block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen picking two of four by fee.", testID)
		{
			mp, err := mempool.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct mempool: %v", failed, testID, err)
			}

			fees := []database.Unit{10, 50, 100, 10}
			for i, fee := range fees {
				tx := makeTx(fmt.Sprintf("0x%02d", i), 0, to, fee, uint64(i+1))
				if _, err := mp.Add(tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to add transaction: %v", failed, testID, err)
				}
			}

			best := mp.PickBest(2)
			if len(best) != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould get 2 transactions, got %d.", failed, testID, len(best))
			}
			if best[0].Fee != 100 || best[1].Fee != 50 {
				t.Logf("\t%s\tTest %d:\tgot: %d, %d", failed, testID, best[0].Fee, best[1].Fee)
				t.Logf("\t%s\tTest %d:\texp: 100, 50", failed, testID)
				t.Fatalf("\t%s\tTest %d:\tShould get the highest fees first.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get the highest fees first.", success, testID)

			all := mp.PickBest(-1)
			if len(all) != len(fees) {
				t.Fatalf("\t%s\tTest %d:\tShould get all transactions with -1, got %d.", failed, testID, len(all))
			}
			if all[2].TimeStamp > all[3].TimeStamp {
				t.Fatalf("\t%s\tTest %d:\tShould break fee ties by age.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould break fee ties by age.", success, testID)
		}
	}
}

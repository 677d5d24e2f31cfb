package state_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/database/storage"
	"github.com/orecoin/orecoin/foundation/blockchain/genesis"
	"github.com/orecoin/orecoin/foundation/blockchain/mempool"
	"github.com/orecoin/orecoin/foundation/blockchain/peer"
	"github.com/orecoin/orecoin/foundation/blockchain/state"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	aliceHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	bobHexKey   = "8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0"

	carol  = database.AccountID("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
	minerA = database.AccountID("0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8")
	minerB = database.AccountID("0x6Fe6CF3c8fF57c58d24BfC869668F48BCbDb3BD9")
)

// =============================================================================

func loadKey(t *testing.T, hexKey string) (*ecdsa.PrivateKey, database.AccountID) {
	t.Helper()

	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load private key: %v", failed, err)
	}

	return pk, database.AccountID(crypto.PubkeyToAddress(pk.PublicKey).String())
}

// testGenesis uses difficulty one so mining in tests takes a handful of
// hash attempts.
func testGenesis(balances map[string]uint64) genesis.Genesis {
	return genesis.Genesis{
		Date:             time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:          1,
		ChainName:        "Orecoin Test",
		Difficulty:       1,
		MaxDifficulty:    16,
		TargetBlockTime:  120,
		RetargetInterval: 32,
		BaseReward:       700,
		HalvingInterval:  10000,
		TransPerBlock:    200,
		MaxBlockSize:     1 << 20,
		Balances:         balances,
	}
}

func newTestState(t *testing.T, beneficiary database.AccountID, balances map[string]uint64) *state.State {
	t.Helper()

	strg, err := storage.NewMemory()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create memory storage: %v", failed, err)
	}

	st, err := state.New(state.Config{
		BeneficiaryAddress: beneficiary,
		Host:               "localhost:10080",
		Storage:            strg,
		Genesis:            testGenesis(balances),
		KnownPeers:         peer.NewPeerSet(),
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct state: %v", failed, err)
	}

	return st
}

// resolverMap adapts a fetched set of outputs to the resolver interface the
// signing code needs.
type resolverMap map[database.Outpoint]database.UTXO

func (rm resolverMap) Get(op database.Outpoint) (database.UTXO, bool) {
	utxo, exists := rm[op]
	return utxo, exists
}

// buildSpend constructs and signs a transaction spending the sender's
// confirmed outputs first fit ascending.
func buildSpend(t *testing.T, st *state.State, pk *ecdsa.PrivateKey, from database.AccountID, to database.AccountID, value database.Unit, fee database.Unit) database.Tx {
	t.Helper()

	resolver := make(resolverMap)
	var inputs []database.TxInput
	var total database.Unit

	for _, utxo := range st.QueryUTXOs(from) {
		inputs = append(inputs, database.TxInput{TxID: utxo.TxID, OutputIndex: utxo.OutputIndex})
		resolver[utxo.Outpoint()] = utxo
		total += utxo.Amount
		if total >= value+fee {
			break
		}
	}
	if total < value+fee {
		t.Fatalf("\t%s\tShould have enough funds: need %d, have %d.", failed, value+fee, total)
	}

	outputs := []database.TxOutput{
		{Address: to, Amount: value, LockCondition: string(to)},
	}
	if change := total - value - fee; change > 0 {
		outputs = append(outputs, database.TxOutput{Address: from, Amount: change, LockCondition: string(from)})
	}

	tx := database.NewTx(inputs, outputs)
	if err := tx.SignInputs(pk, resolver); err != nil {
		t.Fatalf("\t%s\tShould be able to sign transaction: %v", failed, err)
	}

	return tx
}

// =============================================================================

func Test_MineOwnBlock(t *testing.T) {
	alicePK, alice := loadKey(t, aliceHexKey)

	t.Log("Given the need to mine a block from wallet submitted transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen submitting a spend and mining.", testID)
		{
			st := newTestState(t, minerA, map[string]uint64{string(alice): 1000})

			tx := buildSpend(t, st, alicePK, alice, carol, 300, 50)
			if err := st.UpsertWalletTransaction(tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to admit the transaction.", success, testID)

			if got := st.MempoolCount(); got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould have 1 pending transaction, got %d.", failed, testID, got)
			}

			block, err := st.MineNewBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine a block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to mine a block: %s", success, testID, block.Hash()[:10])

			if got := block.Header.Height; got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould mine at height 1, got %d.", failed, testID, got)
			}
			if got := st.MempoolCount(); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould drain the mempool, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould confirm the transaction out of the mempool.", success, testID)

			balances := map[database.AccountID]database.Unit{
				alice:  650,
				carol:  300,
				minerA: 750,
			}
			for address, exp := range balances {
				if got := st.QueryBalance(address); got != exp {
					t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, got)
					t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, exp)
					t.Fatalf("\t%s\tTest %d:\tShould have the correct balance for %s.", failed, testID, address)
				}
				t.Logf("\t%s\tTest %d:\tShould have the correct balance for %s.", success, testID, address)
			}

			status := st.QueryStatus()
			if status.Height != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould report height 1, got %d.", failed, testID, status.Height)
			}
			if status.LatestBlockHash != block.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould report the mined block as the tip.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould report the mined block in the status.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen mining with an empty mempool.", testID)
		{
			st := newTestState(t, minerA, map[string]uint64{string(alice): 1000})

			if _, err := st.MineNewBlock(context.Background()); !errors.Is(err, state.ErrNoTransactions) {
				t.Fatalf("\t%s\tTest %d:\tShould report no transactions, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould report no transactions.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen mining is turned off.", testID)
		{
			st := newTestState(t, minerA, map[string]uint64{string(alice): 1000})

			tx := buildSpend(t, st, alicePK, alice, carol, 300, 50)
			if err := st.UpsertWalletTransaction(tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit the transaction: %v", failed, testID, err)
			}

			st.TurnMiningOff()
			if _, err := st.MineNewBlock(context.Background()); !errors.Is(err, state.ErrMiningDisabled) {
				t.Fatalf("\t%s\tTest %d:\tShould report mining disabled, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould report mining disabled.", success, testID)

			st.TurnMiningOn()
			if _, err := st.MineNewBlock(context.Background()); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould mine once re-enabled: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould mine once re-enabled.", success, testID)
		}
	}
}

func Test_TransactionAdmission(t *testing.T) {
	alicePK, alice := loadKey(t, aliceHexKey)
	bobPK, bob := loadKey(t, bobHexKey)

	t.Log("Given the need to reject bad transactions at admission.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the id does not match the content.", testID)
		{
			st := newTestState(t, minerA, map[string]uint64{string(alice): 1000})

			tx := buildSpend(t, st, alicePK, alice, carol, 300, 50)
			tx.Outputs[0].Amount = 301

			if err := st.UpsertWalletTransaction(tx); !errors.Is(err, state.ErrInvalidTransaction) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a stale id, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a stale id.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen a transaction spends the same output twice.", testID)
		{
			st := newTestState(t, minerA, map[string]uint64{string(alice): 1000})

			utxo := st.QueryUTXOs(alice)[0]
			tx := database.NewTx(
				[]database.TxInput{
					{TxID: utxo.TxID, OutputIndex: utxo.OutputIndex},
					{TxID: utxo.TxID, OutputIndex: utxo.OutputIndex},
				},
				[]database.TxOutput{{Address: carol, Amount: 100, LockCondition: string(carol)}},
			)

			if err := st.UpsertWalletTransaction(tx); !errors.Is(err, state.ErrDoubleSpendInTx) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the internal double spend, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the internal double spend.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen a bare coinbase is submitted.", testID)
		{
			st := newTestState(t, minerA, map[string]uint64{string(alice): 1000})

			coinbase := database.NewCoinbaseTx(carol, 700, 1)
			if err := st.UpsertWalletTransaction(coinbase); !errors.Is(err, state.ErrInvalidTransaction) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a bare coinbase, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a bare coinbase.", success, testID)
		}

		testID = 3
		t.Logf("\tTest %d:\tWhen the wrong key signs the spend.", testID)
		{
			st := newTestState(t, minerA, map[string]uint64{string(alice): 1000})

			utxo := st.QueryUTXOs(alice)[0]
			resolver := resolverMap{utxo.Outpoint(): utxo}
			tx := database.NewTx(
				[]database.TxInput{{TxID: utxo.TxID, OutputIndex: utxo.OutputIndex}},
				[]database.TxOutput{{Address: bob, Amount: 1000, LockCondition: string(bob)}},
			)
			if err := tx.SignInputs(bobPK, resolver); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign transaction: %v", failed, testID, err)
			}

			if err := st.UpsertWalletTransaction(tx); !errors.Is(err, state.ErrInvalidTransaction) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the wrong signer, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the wrong signer.", success, testID)
		}

		testID = 4
		t.Logf("\tTest %d:\tWhen the declared fee does not match the amounts.", testID)
		{
			st := newTestState(t, minerA, map[string]uint64{string(alice): 1000})

			tx := buildSpend(t, st, alicePK, alice, carol, 300, 50)
			tx.Fee = 49

			if err := st.UpsertWalletTransaction(tx); !errors.Is(err, state.ErrInvalidTransaction) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a false fee, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a false fee.", success, testID)
		}

		testID = 5
		t.Logf("\tTest %d:\tWhen two pending spends target the same output.", testID)
		{
			st := newTestState(t, minerA, map[string]uint64{string(alice): 1000})

			first := buildSpend(t, st, alicePK, alice, carol, 300, 50)
			if err := st.UpsertWalletTransaction(first); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit the first spend: %v", failed, testID, err)
			}

			second := buildSpend(t, st, alicePK, alice, carol, 200, 20)
			if err := st.UpsertWalletTransaction(second); !errors.Is(err, mempool.ErrOutpointReserved) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the conflicting spend, got: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the conflicting spend.", success, testID)
		}
	}
}

func Test_PeerBlockAcceptance(t *testing.T) {
	alicePK, alice := loadKey(t, aliceHexKey)

	t.Log("Given the need to accept blocks announced by peers.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a peer announces the next block.", testID)
		{
			stA := newTestState(t, minerA, map[string]uint64{string(alice): 1000})
			stB := newTestState(t, minerB, map[string]uint64{string(alice): 1000})

			tx := buildSpend(t, stA, alicePK, alice, carol, 300, 50)
			if err := stA.UpsertWalletTransaction(tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit the transaction: %v", failed, testID, err)
			}

			block, err := stA.MineNewBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine a block: %v", failed, testID, err)
			}

			if err := stB.ProcessPeerBlock(database.NewBlockData(block)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept the peer block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould accept the peer block.", success, testID)

			if got, exp := stB.RetrieveLatestBlock().Hash(), block.Hash(); got != exp {
				t.Fatalf("\t%s\tTest %d:\tShould move the tip to the peer block.", failed, testID)
			}
			if got, exp := stB.QueryBalance(carol), database.Unit(300); got != exp {
				t.Fatalf("\t%s\tTest %d:\tShould apply the peer transactions, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould apply the peer transactions.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen a peer announces a tampered block.", testID)
		{
			stA := newTestState(t, minerA, map[string]uint64{string(alice): 1000})
			stB := newTestState(t, minerB, map[string]uint64{string(alice): 1000})

			tx := buildSpend(t, stA, alicePK, alice, carol, 300, 50)
			if err := stA.UpsertWalletTransaction(tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit the transaction: %v", failed, testID, err)
			}

			block, err := stA.MineNewBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine a block: %v", failed, testID, err)
			}

			blockData := database.NewBlockData(block)
			blockData.Header.Nonce++

			if err := stB.ProcessPeerBlock(blockData); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject a block with a tampered header.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a block with a tampered header.", success, testID)
		}
	}
}

func Test_AdmissionSerialization(t *testing.T) {
	alicePK, alice := loadKey(t, aliceHexKey)
	balances := map[string]uint64{string(alice): 1000}

	t.Log("Given the need to serialize admission against block acceptance.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a peer block races a conflicting local spend.", testID)
		{
			// Whichever side wins the lock, the pool must never end up
			// holding a transaction whose inputs the block confirmed. Run
			// the race repeatedly to give the interleavings a chance.
			for i := 0; i < 50; i++ {
				stA := newTestState(t, minerA, balances)
				stB := newTestState(t, minerB, balances)

				txB := buildSpend(t, stB, alicePK, alice, carol, 200, 20)
				if err := stB.UpsertWalletTransaction(txB); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to admit tx on node B: %v", failed, testID, err)
				}
				blockB, err := stB.MineNewBlock(context.Background())
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to mine on node B: %v", failed, testID, err)
				}

				txA := buildSpend(t, stA, alicePK, alice, carol, 100, 10)

				var wg sync.WaitGroup
				wg.Add(2)
				go func() {
					defer wg.Done()
					stA.UpsertWalletTransaction(txA)
				}()
				go func() {
					defer wg.Done()
					stA.ProcessPeerBlock(database.NewBlockData(blockB))
				}()
				wg.Wait()

				if got, exp := stA.RetrieveLatestBlock().Hash(), blockB.Hash(); got != exp {
					t.Fatalf("\t%s\tTest %d:\tShould accept the peer block on round %d.", failed, testID, i)
				}
				if got := stA.MempoolCount(); got != 0 {
					t.Fatalf("\t%s\tTest %d:\tShould not pool a spend of confirmed outputs, round %d, pool %d.", failed, testID, i, got)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould accept the peer block every round.", success, testID)
			t.Logf("\t%s\tTest %d:\tShould not pool a spend of confirmed outputs.", success, testID)
		}
	}
}

// faultyStorage accepts the genesis write and refuses everything after,
// standing in for a disk that filled up while the node runs.
type faultyStorage struct {
	database.Storage
}

func (fs faultyStorage) Write(blockData database.BlockData) error {
	if blockData.Header.Height > 0 {
		return errors.New("disk full")
	}

	return fs.Storage.Write(blockData)
}

func Test_StorageWriteFailure(t *testing.T) {
	alicePK, alice := loadKey(t, aliceHexKey)
	balances := map[string]uint64{string(alice): 1000}

	t.Log("Given the need to refuse a block its own storage denies.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the block write fails after validation.", testID)
		{
			strg, err := storage.NewMemory()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create memory storage: %v", failed, testID, err)
			}

			st, err := state.New(state.Config{
				BeneficiaryAddress: minerA,
				Host:               "localhost:10080",
				Storage:            faultyStorage{Storage: strg},
				Genesis:            testGenesis(balances),
				KnownPeers:         peer.NewPeerSet(),
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct state: %v", failed, testID, err)
			}

			tx := buildSpend(t, st, alicePK, alice, carol, 100, 10)
			if err := st.UpsertWalletTransaction(tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit the transaction: %v", failed, testID, err)
			}

			if _, err := st.MineNewBlock(context.Background()); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould report the failed block write.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould report the failed block write.", success, testID)

			// Memory and storage must still agree: the tip stays on genesis
			// and no balance moved.
			if got := st.RetrieveLatestBlock().Header.Height; got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould stay on the genesis tip, got height %d.", failed, testID, got)
			}
			if got := st.QueryBalance(alice); got != 1000 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the pre-block balances, got %d.", failed, testID, got)
			}
			if got := st.QueryBalance(minerA); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not credit the miner, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould keep memory and storage in agreement.", success, testID)
		}
	}
}

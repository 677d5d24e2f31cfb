package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/spf13/cobra"
)

var (
	to      string
	value   uint64
	feeRate uint64
)

// sendCmd represents the send command.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a payment",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		if err := sendWithDetails(privateKey); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address receiving the payment.")
	sendCmd.Flags().Uint64VarP(&value, "value", "v", 0, "Value to send in minimal units.")
	sendCmd.Flags().Uint64VarP(&feeRate, "fee-rate", "f", 10, "Fee rate as a percentage of the value.")
}

func sendWithDetails(privateKey *ecdsa.PrivateKey) error {
	toAddress, err := database.ToAccountID(to)
	if err != nil {
		return err
	}

	fromAddress, err := database.ToAccountID(crypto.PubkeyToAddress(privateKey.PublicKey).String())
	if err != nil {
		return err
	}

	// Ask the node to run coin selection; it owns the confirmed output set
	// and picks enough outputs to cover the payment plus the fee.
	sel, err := fetchSelection(fromAddress)
	if err != nil {
		return err
	}

	tx, err := buildTransaction(privateKey, fromAddress, toAddress, sel)
	if err != nil {
		return err
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rejected transaction: %s", body)
	}

	fmt.Println(string(body))

	return nil
}

// fetchSelection asks the node to pick outputs covering the payment.
func fetchSelection(address database.AccountID) (database.Selection, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/utxos/%s/select/%d/%d", url, address, value, feeRate))
	if err != nil {
		return database.Selection{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return database.Selection{}, fmt.Errorf("node refused selection: %s", body)
	}

	var sel database.Selection
	if err := json.NewDecoder(resp.Body).Decode(&sel); err != nil {
		return database.Selection{}, err
	}

	return sel, nil
}

// utxoResolver adapts a fetched set of outputs to the resolver interface the
// signing code needs.
type utxoResolver map[database.Outpoint]database.UTXO

func (ur utxoResolver) Get(op database.Outpoint) (database.UTXO, bool) {
	utxo, exists := ur[op]
	return utxo, exists
}

// buildTransaction turns the node's selection into a signed transaction with
// the payment output plus any change back to the sender.
func buildTransaction(privateKey *ecdsa.PrivateKey, from database.AccountID, toAddress database.AccountID, sel database.Selection) (database.Tx, error) {
	if len(sel.UTXOs) == 0 {
		return database.Tx{}, fmt.Errorf("selection returned no outputs")
	}

	resolver := make(utxoResolver)
	inputs := make([]database.TxInput, 0, len(sel.UTXOs))

	for _, utxo := range sel.UTXOs {
		inputs = append(inputs, database.TxInput{
			TxID:        utxo.TxID,
			OutputIndex: utxo.OutputIndex,
		})
		resolver[utxo.Outpoint()] = utxo
	}

	outputs := []database.TxOutput{
		{Address: toAddress, Amount: database.Unit(value), LockCondition: string(toAddress)},
	}
	if sel.Change > 0 {
		outputs = append(outputs, database.TxOutput{
			Address:       from,
			Amount:        sel.Change,
			LockCondition: string(from),
		})
	}

	tx := database.NewTx(inputs, outputs)
	if err := tx.SignInputs(privateKey, resolver); err != nil {
		return database.Tx{}, err
	}

	return tx, nil
}

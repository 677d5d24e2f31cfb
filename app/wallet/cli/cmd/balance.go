package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/spf13/cobra"
)

type balanceResponse struct {
	Address database.AccountID `json:"address"`
	Balance database.Unit      `json:"balance"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey).String()
	fmt.Println("For Address:", address)

	resp, err := http.Get(fmt.Sprintf("%s/v1/balances/%s", url, address))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var balance balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		log.Fatal(err)
	}

	fmt.Println(balance.Balance)
}

package main

import "github.com/orecoin/orecoin/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}

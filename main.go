// Gateway NFT router API server and command-line interface.
//
// The router deploys NFT collections for callers holding an authorization signed by the gateway. Each
// authorization's nonce is consumed at most once, whatever kind of collection it is used for. This
// package wires the router to its nonce stores, its HTTP API and the gateway signing tools.

package main

import (
	"fmt"
	"os"
)

func main() {
	command := CreateRootCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// Command keygen prints a fresh account for BOT_PRIVATE_KEY
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

func main() {
	_ = godotenv.Load()

	def := os.Getenv("NETWORK")
	if def == "" {
		def = string(types.NetworkTestnet)
	}
	net := flag.String("network", def, "network to generate the account for")
	flag.Parse()

	if err := run(os.Stdout, types.Network(*net)); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, net types.Network) error {
	info, err := network.GetNetworkInfo(net)
	if err != nil {
		return err
	}

	acct, err := account.Generate(net)
	if err != nil {
		return err
	}

	rule := strings.Repeat("═", 60)
	fmt.Fprintf(w, "🔑 Generating new %s wallet...\n\n", info.Name)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Network:     %s\n", net)
	fmt.Fprintf(w, "Address:     %s\n", acct.Address())
	fmt.Fprintf(w, "Private Key: %s\n", acct.PrivateKey())
	fmt.Fprintln(w, rule)

	fmt.Fprintln(w, "\n📋 Next Steps:")
	fmt.Fprintln(w, "1. Add to your .env file:")
	fmt.Fprintf(w, "   BOT_PRIVATE_KEY=%s\n", acct.PrivateKey())
	fmt.Fprintf(w, "2. Fund this address with %s:\n", info.TokenSymbol)
	fmt.Fprintf(w, "   %s\n", acct.Address())

	fmt.Fprintln(w, "\n⚠️  Keep your private key secure. Never commit it or share it.")
	fmt.Fprintf(w, "\n🔍 View on Explorer:\n   %s\n", info.AddressURL(acct.Address()))
	return nil
}

package answer

import "strings"

type topic struct {
	keywords []string
	answer   string
}

// topics are checked in order; the first keyword hit wins
var topics = []topic{
	{
		keywords: []string{"x402", "402", "payment required"},
		answer: "x402 revives the HTTP 402 Payment Required status. A server answers an unpaid request " +
			"with a price challenge, the client signs a payment authorization for it and retries, " +
			"and a facilitator verifies the payment before the resource is served.",
	},
	{
		keywords: []string{"blockchain", "ledger"},
		answer: "A blockchain is an append-only ledger replicated across many nodes. Blocks of " +
			"transactions are linked by cryptographic hashes, so history cannot be rewritten " +
			"without redoing the work or stake that secured it.",
	},
	{
		keywords: []string{"stablecoin", "usdc"},
		answer: "A stablecoin is a token designed to hold a steady value, usually pegged to a fiat " +
			"currency. USDC is redeemable one to one for US dollars held in reserve.",
	},
	{
		keywords: []string{"solana"},
		answer: "Solana is a high throughput blockchain that orders transactions with proof of history " +
			"and secures them with proof of stake. Accounts are ed25519 keys shown in base58.",
	},
	{
		keywords: []string{"ethereum", "evm", "smart contract"},
		answer: "Ethereum is a programmable blockchain. Smart contracts run on the Ethereum Virtual " +
			"Machine, and EVM compatible chains such as Base, Polygon and Avalanche reuse its " +
			"account and signature format.",
	},
	{
		keywords: []string{"wallet", "private key", "seed"},
		answer: "A wallet holds the private key that controls an address. Whoever has the key can move " +
			"the funds, so keep it offline and never share it.",
	},
	{
		keywords: []string{"ai", "artificial intelligence", "machine learning"},
		answer: "AI (Artificial Intelligence) is the simulation of human intelligence by machines, " +
			"especially computer systems. It includes learning, reasoning, and self-correction.",
	},
}

const fallbackAnswer = "That is a good question. This service answers from a small built-in knowledge " +
	"base; try asking about x402, blockchains, wallets, stablecoins or AI."

// Lookup returns the answer of the first topic with a keyword in question
func Lookup(question string) string {
	q := strings.ToLower(question)
	for _, t := range topics {
		for _, kw := range t.keywords {
			if containsWord(q, kw) {
				return t.answer
			}
		}
	}
	return fallbackAnswer
}

// containsWord reports whether kw occurs in s on word boundaries
func containsWord(s, kw string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], kw)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(kw)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z'
}

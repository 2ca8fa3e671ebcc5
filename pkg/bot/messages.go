package bot

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/store"
)

const (
	msgStartFirst     = "❌ No wallet found. Use /start first"
	msgImportUsage    = "Usage: /import <private key>"
	msgAskUsage       = "Usage: /ask <your question>\n\nExample:\n/ask What is blockchain?"
	msgInvalidKey     = "❌ Invalid private key. Please check and try again."
	msgReset          = "🗑️ Wallet reset. Type /start to create a new wallet."
	msgWalletUnusable = "❌ Your stored wallet does not match this bot's network. Use /reset and /start to create a new one."
)

func (s *Service) price() string {
	return fmt.Sprintf("%s %s", network.FormatAmount(new(big.Int).SetUint64(s.cfg.Amount), s.info.Decimals), s.info.TokenSymbol)
}

func (s *Service) welcomeMessage(w *store.Wallet) string {
	var b strings.Builder
	b.WriteString("✅ *Welcome to x402 AI Bot!*\n\n")
	b.WriteString("Your wallet has been generated:\n")
	fmt.Fprintf(&b, "📍 Address: `%s`\n\n", w.Address)
	fmt.Fprintf(&b, "⚠️ *IMPORTANT: Fund this wallet with %s!*\n", s.info.TokenSymbol)
	fmt.Fprintf(&b, "💰 Minimum: %s per query\n", s.price())
	fmt.Fprintf(&b, "🌐 Network: %s\n\n", s.info.Name)
	b.WriteString("*How to fund:*\n")
	b.WriteString("1. Copy your address above\n")
	fmt.Fprintf(&b, "2. Send %s from any wallet\n", s.info.TokenSymbol)
	b.WriteString("3. Use /balance to check\n\n")
	b.WriteString(commandList)
	return b.String()
}

func (s *Service) welcomeBackMessage(w *store.Wallet) string {
	return fmt.Sprintf("Welcome back! 👋\n\nYour wallet: `%s`\n\nUse /ask <your question> to query AI\nCost: %s per query",
		w.Address, s.price())
}

const commandList = "*Commands:*\n" +
	"/start - Get wallet\n" +
	"/info - Learn more\n" +
	"/balance - Check balance\n" +
	"/ask <question> - Ask AI\n" +
	"/export - Export key\n" +
	"/import <key> - Import wallet\n" +
	"/reset - Delete wallet"

func (s *Service) infoMessage() string {
	var b strings.Builder
	b.WriteString("🤖 *x402 AI Telegram Bot*\n\n")
	b.WriteString("This bot pays for AI queries with the x402 payment protocol.\n\n")
	b.WriteString("*How it works:*\n")
	b.WriteString("1️⃣ You get a wallet (/start)\n")
	fmt.Fprintf(&b, "2️⃣ Fund it with %s\n", s.info.TokenSymbol)
	b.WriteString("3️⃣ Ask questions (/ask)\n")
	b.WriteString("4️⃣ Payment is authorized automatically via x402\n")
	b.WriteString("5️⃣ Receive the answer with a payment receipt\n\n")
	fmt.Fprintf(&b, "*Pricing:* %s per query\n\n", s.price())
	fmt.Fprintf(&b, "*Network:* %s\n", s.info.Name)
	if s.cfg.BotAddress != "" {
		fmt.Fprintf(&b, "*Bot Wallet:* `%s`\n", s.cfg.BotAddress)
	}
	b.WriteString("\n")
	b.WriteString(commandList)
	return b.String()
}

func (s *Service) helpMessage() string {
	return "🤔 Unknown command.\n\n" + commandList
}

func (s *Service) balanceMessage(w *store.Wallet, units *big.Int) string {
	var b strings.Builder
	b.WriteString("💰 *Your Balance*\n\n")
	fmt.Fprintf(&b, "Address: `%s`\n", w.Address)
	fmt.Fprintf(&b, "Balance: *%s %s*\n\n", network.FormatAmount(units, s.balances.Decimals()), s.balances.Symbol())
	fmt.Fprintf(&b, "Cost per query: %s\n", s.price())
	if n := s.queriesAffordable(units); n >= 0 {
		fmt.Fprintf(&b, "Available queries: ~%d\n", n)
	}
	fmt.Fprintf(&b, "\n[View on Explorer](%s)", s.info.AddressURL(w.Address))
	return b.String()
}

func (s *Service) balanceErrorMessage(w *store.Wallet) string {
	return fmt.Sprintf("❌ Error fetching balance\n\nWallet: `%s`\n\n[Check manually on Explorer](%s)",
		w.Address, s.info.AddressURL(w.Address))
}

func (s *Service) balanceUnavailableMessage(w *store.Wallet) string {
	return fmt.Sprintf("💰 Wallet: `%s`\n\nBalance lookups are not configured.\n\n[Check on Explorer](%s)",
		w.Address, s.info.AddressURL(w.Address))
}

func exportMessage(w *store.Wallet) string {
	return fmt.Sprintf("🔑 *Your Private Key*\n\n`%s`\n\n⚠️ *KEEP THIS SECRET!*\nNever share this key with anyone.\nAnyone with this key can access your funds.",
		w.PrivateKey)
}

func importedMessage(w *store.Wallet) string {
	return fmt.Sprintf("✅ *Wallet Imported!*\n\nAddress: `%s`\n\nUse /balance to check your funds", w.Address)
}

func (s *Service) processingMessage(question string) string {
	return fmt.Sprintf("🔍 *Processing your question...*\n\n%q\n\n💸 Paying %s...\n⏳ Please wait...", question, s.price())
}

func (s *Service) answerMessage(res *AskResult) string {
	return fmt.Sprintf("%s\n\n🔗 [View Transaction](%s)", res.Answer, s.info.TxURL(res.Receipt.Transaction))
}

func (s *Service) paymentRequiredMessage(w *store.Wallet) string {
	var b strings.Builder
	b.WriteString("❌ *Payment Required*\n\n")
	b.WriteString("Could not process payment. Please check:\n")
	fmt.Fprintf(&b, "1. Your wallet has sufficient balance (%s needed)\n", s.price())
	b.WriteString("2. Use /balance to verify funds\n\n")
	b.WriteString("Need to fund your wallet?\n")
	fmt.Fprintf(&b, "Address: `%s`", w.Address)
	return b.String()
}

func requestErrorMessage(err error) string {
	return fmt.Sprintf("❌ *Error Processing Request*\n\n%s\n\nPlease try again or contact support.", err.Error())
}

func tipMessage(text string) string {
	return fmt.Sprintf("💡 *Tip:* Use the /ask command\n\nExample:\n/ask What is blockchain?\n\nYour message: %q\n\nTry: `/ask %s`", text, text)
}

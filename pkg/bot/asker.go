package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/x402-rs/x402-ask/middleware/client"
	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/answer"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// AskResult is a paid answer and the receipt that bought it
type AskResult struct {
	Answer  string
	Receipt *types.PaymentReceipt
}

// Asker sends a question to the backend, paying from acct
type Asker interface {
	Ask(ctx context.Context, acct *account.Account, question, userID string) (*AskResult, error)
}

// HTTPAsker posts questions to the backend's paid endpoint
type HTTPAsker struct {
	endpoint string
	opts     []client.Option
}

// NewHTTPAsker creates an asker for the backend at baseURL. opts are applied
// to the paying client built for every question.
func NewHTTPAsker(baseURL string, opts ...client.Option) *HTTPAsker {
	return &HTTPAsker{
		endpoint: strings.TrimRight(baseURL, "/") + answer.Path,
		opts:     opts,
	}
}

func (a *HTTPAsker) Ask(ctx context.Context, acct *account.Account, question, userID string) (*AskResult, error) {
	pc := client.NewPayingClient(acct, a.opts...)

	res, err := pc.PostJSON(ctx, a.endpoint, answer.Query{Question: question, ChatID: userID})
	if err != nil {
		return nil, err
	}
	// the backend answered without asking for payment
	if res.Response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %d: %s", res.Response.StatusCode, truncate(string(res.Body), 200))
	}
	if res.Receipt == nil {
		return nil, fmt.Errorf("%w: backend answered without a payment receipt", types.ErrMalformedPayment)
	}

	var reply answer.Reply
	if err := json.Unmarshal(res.Body, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode backend reply: %w", err)
	}
	if !reply.Success {
		return nil, fmt.Errorf("backend reported failure")
	}

	return &AskResult{Answer: reply.Answer, Receipt: res.Receipt}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package answer serves the paid question endpoint behind the payment gate.
package answer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/x402-rs/x402-ask/middleware/server"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/store"
	"github.com/x402-rs/x402-ask/pkg/types"
)

const (
	// Path is where the backend mounts the paid endpoint
	Path = "/api/ai-query"

	maxQueryBytes    = 64 << 10
	maxQuestionRunes = 2000
)

// Query is the request body of a paid question
type Query struct {
	Question string `json:"question"`
	ChatID   string `json:"chatId,omitempty"`
}

// PaymentSummary echoes the receipt that paid for the answer
type PaymentSummary struct {
	Transaction string        `json:"transaction"`
	Payer       string        `json:"payer"`
	Network     types.Network `json:"network"`
}

// Reply is the response body of a paid question
type Reply struct {
	Success bool           `json:"success"`
	Answer  string         `json:"answer"`
	Payment PaymentSummary `json:"payment"`
}

type Handler struct {
	info      network.NetworkInfo
	amount    uint64
	responses store.ResponseLog
	log       logging.Logger
	now       func() time.Time
}

// NewHandler creates the answer handler. amount is the per-query price in
// smallest units and only appears in the answer text.
func NewHandler(info network.NetworkInfo, amount uint64, responses store.ResponseLog, log logging.Logger) *Handler {
	return &Handler{
		info:      info,
		amount:    amount,
		responses: responses,
		log:       log,
		now:       time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	receipt, ok := server.ReceiptFromContext(ctx)
	if !ok {
		// mounted without the gate
		h.log.Error(ctx, "answer handler reached without a payment receipt")
		respondJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: "payment receipt missing"})
		return
	}

	query, err := decodeQuery(r.Body)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: err.Error(), Reason: types.ReasonMalformed})
		return
	}

	text := h.compose(query.Question, receipt)

	record := &store.Response{
		UserID:   query.ChatID,
		Question: query.Question,
		Answer:   text,
		Payment: store.Payment{
			Transaction: receipt.Transaction,
			Payer:       receipt.Payer,
			Network:     receipt.Network,
			Amount:      h.amount,
		},
		Timestamp: h.now().UTC(),
	}
	// best-effort once paid
	if err := h.responses.Record(ctx, record); err != nil {
		h.log.Error(ctx, "failed to record response", "error", err, "transaction", receipt.Transaction)
	}

	h.log.Info(ctx, "question answered", "payer", receipt.Payer, "transaction", receipt.Transaction)

	respondJSON(w, http.StatusOK, Reply{
		Success: true,
		Answer:  text,
		Payment: PaymentSummary{
			Transaction: receipt.Transaction,
			Payer:       receipt.Payer,
			Network:     receipt.Network,
		},
	})
}

func (h *Handler) compose(question string, receipt *types.PaymentReceipt) string {
	var b strings.Builder
	b.WriteString("🤖 *AI Response*\n\n")
	fmt.Fprintf(&b, "Question: %q\n\n", question)
	fmt.Fprintf(&b, "Answer: %s\n\n", Lookup(question))
	fmt.Fprintf(&b, "✅ Payment confirmed: %s %s\n",
		network.FormatAmount(new(big.Int).SetUint64(h.amount), h.info.Decimals), h.info.TokenSymbol)
	fmt.Fprintf(&b, "📝 Transaction: %s", receipt.Transaction)
	return b.String()
}

// ValidateQuery rejects unusable questions before the gate issues a
// challenge, so nobody pays for a request the handler would refuse.
// The body is restored for the next handler.
func ValidateQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			respondJSON(w, http.StatusMethodNotAllowed, types.ErrorResponse{Error: "method not allowed"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxQueryBytes+1))
		if err != nil {
			respondJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "failed to read body", Reason: types.ReasonMalformed})
			return
		}
		if len(body) > maxQueryBytes {
			respondJSON(w, http.StatusRequestEntityTooLarge, types.ErrorResponse{Error: "request body too large"})
			return
		}
		if _, err := decodeQuery(bytes.NewReader(body)); err != nil {
			respondJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: err.Error(), Reason: types.ReasonMalformed})
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func decodeQuery(r io.Reader) (*Query, error) {
	var q Query
	if err := json.NewDecoder(r).Decode(&q); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	q.Question = strings.TrimSpace(q.Question)
	switch {
	case q.Question == "":
		return nil, fmt.Errorf("question is required")
	case len([]rune(q.Question)) > maxQuestionRunes:
		return nil, fmt.Errorf("question exceeds %d characters", maxQuestionRunes)
	}
	return &q, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

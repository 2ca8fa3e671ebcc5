package middleware

import (
	"net/http"
	"strings"

	"github.com/x402-rs/x402-ask/pkg/types"
)

// SizeLimitMiddleware caps request bodies at maxBytes
func SizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

var (
	corsAllowHeaders  = strings.Join([]string{"Content-Type", types.HeaderPayment, HeaderRequestID}, ", ")
	corsExposeHeaders = strings.Join([]string{types.HeaderPaymentResponse, HeaderRequestID}, ", ")
)

// CORSMiddleware reflects the caller's origin, never with credentials.
// Browsers may send the payment header and read the receipt header.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
		w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

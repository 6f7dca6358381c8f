package trade

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"coinScope/internal/model"
)

// ErrUserRejected is returned when the user declines to sign.
var ErrUserRejected = errors.New("user rejected the request")

const maxErrorLen = 100

type errorRule struct {
	category model.ErrorCategory
	message  string
	needles  []string
}

// Order matters: a message matching several rules takes the first.
var errorRules = []errorRule{
	{model.CategoryCancelled, "Transaction cancelled", []string{"user rejected", "user denied", "rejected the request", "denied transaction"}},
	{model.CategoryInsufficientFunds, "Insufficient funds for this transaction", []string{"insufficient funds", "exceeds balance", "insufficient balance"}},
	{model.CategoryNonceConflict, "Transaction conflict, please try again", []string{"nonce too low", "nonce too high", "replacement transaction underpriced", "replacement underpriced", "already known"}},
	{model.CategoryGasEstimation, "Gas estimation failed, the transaction would likely revert", []string{"estimate gas", "gas estimation", "intrinsic gas", "gas required exceeds"}},
	{model.CategoryNetwork, "Network error, check your connection and try again", []string{"network", "timeout", "timed out", "deadline exceeded", "connection refused", "connection reset", "no such host"}},
}

// ClassifyError maps a trade failure to a category and a human-readable
// message. Unknown failures keep their own text, truncated.
func ClassifyError(err error) (model.ErrorCategory, string) {
	if err == nil {
		return "", ""
	}
	switch {
	case errors.Is(err, ErrUserRejected), errors.Is(err, context.Canceled):
		return model.CategoryCancelled, errorRules[0].message
	case errors.Is(err, context.DeadlineExceeded):
		return model.CategoryNetwork, errorRules[4].message
	}

	text := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		for _, needle := range rule.needles {
			if strings.Contains(text, needle) {
				return rule.category, rule.message
			}
		}
	}
	return model.CategoryGeneric, truncate(err.Error(), maxErrorLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

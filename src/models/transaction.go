package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies a ledger transaction.
type TransactionKind string

const (
	KindBuy      TransactionKind = "BUY"
	KindSell     TransactionKind = "SELL"
	KindDividend TransactionKind = "DIVIDEND"
)

// Currency is one of the two supported price currencies.
type Currency string

const (
	CAD Currency = "CAD"
	USD Currency = "USD"
)

// NormalizeCurrency maps an arbitrary currency code onto a supported one,
// defaulting to CAD when the code is unknown.
func NormalizeCurrency(code string) Currency {
	if Currency(code) == USD {
		return USD
	}
	return CAD
}

// ActivityKind is the closed set of broker activity subtypes that are imported
// as DIVIDEND transactions. It is determined once at ingestion time and carried
// as a structured field instead of being parsed back out of the notes text.
type ActivityKind string

const (
	ActivityDividend            ActivityKind = "DIVIDEND"
	ActivityDividendNonResident ActivityKind = "DIVIDEND_NON_RESIDENT"
	ActivityInterest            ActivityKind = "INTEREST"
	ActivityMutualFundDist      ActivityKind = "MUTUAL_FUND_DISTRIBUTION"
	ActivityDistribution        ActivityKind = "DISTRIBUTION"
	ActivityReturnOfCapital     ActivityKind = "RETURN_OF_CAPITAL"
	ActivityCapitalGainsDist    ActivityKind = "CAPITAL_GAINS_DISTRIBUTION"
	ActivityEtfDistribution     ActivityKind = "ETF_DISTRIBUTION"
)

// Label returns the display prefix used in transaction notes.
func (k ActivityKind) Label() string {
	switch k {
	case ActivityDividend:
		return "Dividend"
	case ActivityDividendNonResident:
		return "Dividend (Non-Resident)"
	case ActivityInterest:
		return "Interest"
	case ActivityMutualFundDist:
		return "Mutual Fund Distribution"
	case ActivityDistribution:
		return "Distribution"
	case ActivityReturnOfCapital:
		return "Return of Capital"
	case ActivityCapitalGainsDist:
		return "Capital Gains Distribution"
	case ActivityEtfDistribution:
		return "ETF Distribution"
	}
	return "Payment"
}

// Transaction is one immutable entry of a portfolio's ledger. total_amount is
// derived once at creation and stored, so historical totals stay stable even
// if the derivation rule changes later.
type Transaction struct {
	ID           int64           `json:"id"`
	PortfolioID  int64           `json:"portfolio_id"`
	Symbol       string          `json:"symbol"`
	Kind         TransactionKind `json:"kind"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Currency     Currency        `json:"currency"`
	Fees         decimal.Decimal `json:"fees"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Notes        string          `json:"notes,omitempty"`
	ActivityKind *ActivityKind   `json:"activity_kind,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DeriveTotalAmount computes the stored total_amount for a new transaction:
// quantity*unit_price + fees for a BUY, quantity*unit_price - fees for a SELL,
// and the supplied amount for a DIVIDEND.
func DeriveTotalAmount(kind TransactionKind, quantity, unitPrice, fees, supplied decimal.Decimal) decimal.Decimal {
	switch kind {
	case KindBuy:
		return quantity.Mul(unitPrice).Add(fees)
	case KindSell:
		return quantity.Mul(unitPrice).Sub(fees)
	default:
		return supplied
	}
}

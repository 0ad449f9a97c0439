package sales

import (
	"github.com/shopspring/decimal"
)

// PaymentState classifies a sale for status badges, detail views and invoices.
type PaymentState string

const (
	// StatePaymentDue means the customer still owes money.
	StatePaymentDue PaymentState = "PAYMENT_DUE"
	// StateCreditBalance means the shop owes the customer an unpaid credit.
	StateCreditBalance PaymentState = "CREDIT_BALANCE"
	// StateRefunded means the credit was paid out and nothing is outstanding on it.
	StateRefunded PaymentState = "REFUNDED"
	// StateFullyPaid means the sale is square with no returns outstanding.
	StateFullyPaid PaymentState = "FULLY_PAID"
	// StateSettled means the sale is square after returns whose refunds are all paid.
	StateSettled PaymentState = "SETTLED"
)

// BalanceSummary is the derived financial position of a sale.
type BalanceSummary struct {
	ReturnedAmount decimal.Decimal `json:"returned_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	TotalRefunded  decimal.Decimal `json:"total_refunded"`
	Balance        decimal.Decimal `json:"balance"`
	State          PaymentState    `json:"state"`
	// AmountDue is set when State is PAYMENT_DUE.
	AmountDue decimal.Decimal `json:"amount_due"`
	// CreditAmount is set when State is CREDIT_BALANCE, capped at PaidAmount.
	CreditAmount decimal.Decimal `json:"credit_amount"`
}

// Summarize derives the financial position of a sale from its returns and
// refunds. It is pure: identical inputs yield identical output and the order
// of the returns slice does not matter.
//
// The net amount is always recomputed from OriginalTotalAmount, Discount and
// the live returns; the persisted Sale.TotalAmount column is advisory only.
func Summarize(sale Sale, returns []SaleReturn) BalanceSummary {
	returned := decimal.Zero
	refunded := decimal.Zero
	allRefundsPaid := true
	for _, ret := range returns {
		returned = returned.Add(ret.TotalAmount)
		if ret.RefundPaid {
			refunded = refunded.Add(ret.RefundAmount)
		} else {
			allRefundsPaid = false
		}
	}

	net := sale.OriginalTotalAmount.Sub(sale.Discount).Sub(returned)
	if net.IsNegative() {
		net = decimal.Zero
	}

	balance := net.Sub(sale.PaidAmount).Add(refunded)

	summary := BalanceSummary{
		ReturnedAmount: returned,
		NetAmount:      net,
		TotalRefunded:  refunded,
		Balance:        balance,
		AmountDue:      decimal.Zero,
		CreditAmount:   decimal.Zero,
	}

	switch {
	case balance.IsPositive():
		summary.State = StatePaymentDue
		summary.AmountDue = balance
	case balance.IsNegative():
		if len(returns) > 0 && allRefundsPaid && refunded.IsPositive() {
			summary.State = StateRefunded
		} else {
			summary.State = StateCreditBalance
			credit := balance.Neg()
			if credit.GreaterThan(sale.PaidAmount) {
				credit = sale.PaidAmount
			}
			summary.CreditAmount = credit
		}
	default:
		if len(returns) > 0 && allRefundsPaid && refunded.IsPositive() {
			summary.State = StateSettled
		} else {
			summary.State = StateFullyPaid
		}
	}
	return summary
}

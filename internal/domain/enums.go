package domain

import (
	"fmt"
	"strings"
)

type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusRefunded  SaleStatus = "refunded"
	SaleStatusCancelled SaleStatus = "cancelled"
)

type SaleType string

const (
	SaleTypeProduct     SaleType = "product"
	SaleTypeMembership  SaleType = "membership"
	SaleTypeMixed       SaleType = "mixed"
	SaleTypeDailyAccess SaleType = "daily_access"
)

type PaymentChannel string

const (
	ChannelCash        PaymentChannel = "cash"
	ChannelNequi       PaymentChannel = "nequi"
	ChannelBancolombia PaymentChannel = "bancolombia"
	ChannelDaviplata   PaymentChannel = "daviplata"
	ChannelCard        PaymentChannel = "card"
	ChannelTransfer    PaymentChannel = "transfer"
)

// PaymentChannels lists every accepted channel in reporting order.
var PaymentChannels = []PaymentChannel{
	ChannelCash,
	ChannelNequi,
	ChannelBancolombia,
	ChannelDaviplata,
	ChannelCard,
	ChannelTransfer,
}

type ClosureStatus string

const (
	ClosurePending   ClosureStatus = "pending"
	ClosureCompleted ClosureStatus = "completed"
	ClosureReviewed  ClosureStatus = "reviewed"
	ClosureCancelled ClosureStatus = "cancelled"
)

// ParsePaymentChannel normalizes raw input (trimmed, lowercased) into a
// known channel. Enum values are parsed once at the API boundary; everything
// past it works with the typed value.
func ParsePaymentChannel(raw string) (PaymentChannel, error) {
	ch := PaymentChannel(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range PaymentChannels {
		if ch == known {
			return ch, nil
		}
	}
	return "", fmt.Errorf("unknown payment channel %q", raw)
}

func ParseSaleStatus(raw string) (SaleStatus, error) {
	st := SaleStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch st {
	case SaleStatusPending, SaleStatusCompleted, SaleStatusRefunded, SaleStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown sale status %q", raw)
}

func ParseClosureStatus(raw string) (ClosureStatus, error) {
	st := ClosureStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch st {
	case ClosurePending, ClosureCompleted, ClosureReviewed, ClosureCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown closure status %q", raw)
}

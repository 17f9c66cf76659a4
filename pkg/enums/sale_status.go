package enums

import "fmt"

// SaleStatus is the lifecycle state of a terminal sale.
type SaleStatus string

const (
	SaleDraft     SaleStatus = "DRAFT"
	SaleCompleted SaleStatus = "COMPLETED"
	SaleVoid      SaleStatus = "VOID"
	SaleRefund    SaleStatus = "REFUND"
)

var validSaleStatuses = []SaleStatus{
	SaleDraft,
	SaleCompleted,
	SaleVoid,
	SaleRefund,
}

// IsValid reports whether the value is a known sale status.
func (s SaleStatus) IsValid() bool {
	for _, candidate := range validSaleStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSyncable reports whether a sale in this state may be pushed to the server.
func (s SaleStatus) IsSyncable() bool {
	return s == SaleCompleted || s == SaleVoid || s == SaleRefund
}

// ParseSaleStatus converts raw input into SaleStatus.
func ParseSaleStatus(value string) (SaleStatus, error) {
	for _, candidate := range validSaleStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sale status %q", value)
}

package enums

import "fmt"

// StockChangeType labels each stock ledger movement.
type StockChangeType string

const (
	StockChangeOrderPlaced      StockChangeType = "ORDER_PLACED"
	StockChangeOrderCancelled   StockChangeType = "ORDER_CANCELLED"
	StockChangeManualAdjustment StockChangeType = "MANUAL_ADJUSTMENT"
	StockChangeRestock          StockChangeType = "RESTOCK"
	StockChangeDisputeReturn    StockChangeType = "DISPUTE_RETURN"
)

var validStockChangeTypes = []StockChangeType{
	StockChangeOrderPlaced,
	StockChangeOrderCancelled,
	StockChangeManualAdjustment,
	StockChangeRestock,
	StockChangeDisputeReturn,
}

// String implements fmt.Stringer.
func (s StockChangeType) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StockChangeType.
func (s StockChangeType) IsValid() bool {
	for _, candidate := range validStockChangeTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStockChangeType converts raw input into a StockChangeType.
func ParseStockChangeType(value string) (StockChangeType, error) {
	for _, candidate := range validStockChangeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock change type %q", value)
}

package models

// Position is a holding in one contract. AvgCost is the cost of one contract
// including its multiplier.
type Position struct {
	Contract Contract `json:"contract"`
	Quantity float64  `json:"quantity"` // signed; never zero while in a book
	AvgCost  float64  `json:"avg_cost"`
}

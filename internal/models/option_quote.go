package models

// OptionQuote is one row of a historical options chain: a quote time, an
// expiration and a strike, with call and put columns side by side.
type OptionQuote struct {
	ID            uint    `gorm:"primaryKey"`
	QuoteUnixTime int64   `gorm:"index:idx_quote_time;not null"`
	ExpireDate    string  `gorm:"index:idx_expire_strike;not null"` // YYYY-MM-DD
	Strike        float64 `gorm:"index:idx_expire_strike;not null"`

	CLast   float64
	CBid    float64
	CAsk    float64
	CSize   float64
	CVolume float64
	CIV     float64
	CDelta  float64
	CGamma  float64
	CVega   float64
	CTheta  float64
	CRho    float64

	PLast   float64
	PBid    float64
	PAsk    float64
	PSize   float64
	PVolume float64
	PIV     float64
	PDelta  float64
	PGamma  float64
	PVega   float64
	PTheta  float64
	PRho    float64
}

// Last returns the last traded price for the given right.
func (q OptionQuote) Last(right Right) float64 {
	if right == RightPut {
		return q.PLast
	}
	return q.CLast
}

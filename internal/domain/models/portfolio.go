package models

// Position is an open holding reported by the broker.
type Position struct {
	Symbol      string  `json:"symbol"`
	Sector      string  `json:"sector,omitempty"`
	Quantity    float64 `json:"quantity"`
	MarketValue float64 `json:"market_value"`
}

// PortfolioSnapshot is a read-only view of the account at decision time.
// DayPnLPercent is expressed in percent (-2.5 means down 2.5% today).
type PortfolioSnapshot struct {
	Equity        float64    `json:"equity"`
	BuyingPower   float64    `json:"buying_power"`
	OpenPositions []Position `json:"open_positions"`
	DayPnL        float64    `json:"day_pnl"`
	DayPnLPercent float64    `json:"day_pnl_percent"`
}

// Position returns the open position in symbol, if any.
func (p PortfolioSnapshot) Position(symbol string) (Position, bool) {
	for _, pos := range p.OpenPositions {
		if pos.Symbol == symbol {
			return pos, true
		}
	}
	return Position{}, false
}

// RiskAssessment is the outcome of validating one consensus signal.
type RiskAssessment struct {
	Approved   bool               `json:"approved"`
	RiskScore  float64            `json:"risk_score"`
	Violations []string           `json:"violations,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

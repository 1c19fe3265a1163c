package kraken

// ServerTime is the exchange's clock
type ServerTime struct {
	UnixTime int64  `json:"unixtime"`
	RFC1123  string `json:"rfc1123"`
}

// SystemStatus reports exchange availability
type SystemStatus struct {
	Status    string `json:"status"` // online, maintenance, cancel_only, post_only
	Timestamp string `json:"timestamp"`
}

// TradeBalance summarizes the account in a quote currency
type TradeBalance struct {
	EquivalentBalance float64 `json:"eb,string"`
	TradeBalance      float64 `json:"tb,string"`
	MarginAmount      float64 `json:"m,string"`
	UnrealizedNetPNL  float64 `json:"n,string"`
	CostBasis         float64 `json:"c,string"`
	FloatingValuation float64 `json:"v,string"`
	Equity            float64 `json:"e,string"`
	FreeMargin        float64 `json:"mf,string"`
}

// WebSocketsToken authenticates a private WebSocket connection. The token is
// short-lived (exchange-documented, roughly 10-15 minutes) and must be
// refreshed before expiry.
type WebSocketsToken struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"` // Seconds until expiry
}

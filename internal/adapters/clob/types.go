package clob

// Raw DTOs for the venue's CLOB API. They never leave this package; the
// conversion to domain entities lives in mapping.go.

// marketsResponse is the paginated response of GET /markets.
type marketsResponse struct {
	Limit      int          `json:"limit"`
	Count      int          `json:"count"`
	NextCursor string       `json:"next_cursor"`
	Data       []clobMarket `json:"data"`
}

// clobMarket is one market as the CLOB reports it.
type clobMarket struct {
	ConditionID     string      `json:"condition_id"`
	Question        string      `json:"question"`
	EndDateISO      string      `json:"end_date_iso"`
	Tokens          []clobToken `json:"tokens"`
	Active          bool        `json:"active"`
	Closed          bool        `json:"closed"`
	AcceptingOrders bool        `json:"accepting_orders"`
}

// clobToken is one outcome token (YES/NO for binary markets).
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
}

// orderBookRequest is one item in the POST /books batch body.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse is one book in the POST /books batch response.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw is a raw price level. The API sends strings to keep
// precision.
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

package api

import "time"

// QueryResponse represents the standard query response format
type QueryResponse struct {
	Data        interface{} `json:"data"`
	LastFetched *time.Time  `json:"last_fetched,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ProgramsView lists the resolved program identifiers.
type ProgramsView struct {
	Campaign   string `json:"campaign"`
	DealEscrow string `json:"deal_escrow"`
	Treasury   string `json:"treasury"`
	Cluster    string `json:"cluster"`
	RPCURL     string `json:"rpc_url,omitempty"`
}

// FillQuote is the largest gross contribution that fills a campaign without overshooting.
type FillQuote struct {
	Gross    string `json:"gross"`
	Net      string `json:"net"`
	Fee      string `json:"fee"`
	Lamports uint64 `json:"lamports"`
}

// CampaignAddresses are the derived accounts of a campaign.
type CampaignAddresses struct {
	Campaign string `json:"campaign"`
	Vault    string `json:"vault"`
	Bump     uint8  `json:"bump"`
}

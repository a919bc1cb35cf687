package app

import (
	"encoding/json"
	"net/http"

	"github.com/NEARWEEK/MCP/near"
)

type healthInfo struct {
	network              near.Network
	rpcURL               string
	nearBlocksConfigured func() bool
	sessions             func() int
}

type healthResponse struct {
	Status                     string `json:"status"`
	Network                    string `json:"network"`
	RPCURL                     string `json:"rpcUrl"`
	NearBlocksAPIKeyConfigured bool   `json:"nearblocksApiKeyConfigured"`
	Sessions                   int    `json:"sessions"`
}

// ServeHTTP reports liveness and non-secret configuration. It is not
// authenticated and never calls upstream.
func (h healthInfo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:                     "ok",
		Network:                    string(h.network),
		RPCURL:                     h.rpcURL,
		NearBlocksAPIKeyConfigured: h.nearBlocksConfigured(),
		Sessions:                   h.sessions(),
	})
}

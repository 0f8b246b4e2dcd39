package api

import "github.com/mihaimyh/goentitle/pkg/entitlement"

// EntitlementResponse is the body of every successful entitlement endpoint
type EntitlementResponse struct {
	IsPro  bool    `json:"isPro"`
	Source *string `json:"source"` // null until a signal has been applied
}

// SyncRequest is the decoded body of POST /entitlements/sync
type SyncRequest struct {
	IsPro  bool
	Source string
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func newEntitlementResponse(ent *entitlement.Entitlement) EntitlementResponse {
	resp := EntitlementResponse{IsPro: ent.IsPro}
	if ent.Source != "" {
		src := ent.Source
		resp.Source = &src
	}
	return resp
}

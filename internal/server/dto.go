package server

import (
	"encoding/json"

	"copyauction/internal/domain"
	"copyauction/internal/engine"
)

// Request payloads

type StartAuctionRequest struct {
	WorkID          int64         `json:"work_id" minimum:"1"`
	StartPrice      domain.Amount `json:"start_price" example:"100"`
	DurationSeconds int64         `json:"duration_seconds" minimum:"1"`
	// Credential is forwarded to the ledger gateway unchanged.
	Credential string `json:"credential,omitempty"`
}

type PlaceBidRequest struct {
	Amount     domain.Amount `json:"amount" example:"150"`
	Credential string        `json:"credential,omitempty"`
}

type EndAuctionRequest struct {
	Credential string `json:"credential,omitempty"`
}

type RunReconcileRequest struct {
	// OpID replays a single op; otherwise every confirmed op past the grace period is replayed.
	OpID  string `json:"op_id,omitempty"`
	Limit int    `json:"limit,omitempty" minimum:"0"`
}

// Response payloads

type AuctionResponse struct {
	AuctionID       int64                `json:"auction_id"`
	WorkID          int64                `json:"work_id"`
	SellerID        int64                `json:"seller_id"`
	StartPrice      domain.Amount        `json:"start_price"`
	CurrentPrice    domain.Amount        `json:"current_price"`
	HighestBidderID *int64               `json:"highest_bidder_id,omitempty"`
	EndTime         string               `json:"end_time" format:"date-time"`
	Status          domain.AuctionStatus `json:"status" enum:"active,ended"`
	StartTxHash     string               `json:"start_tx_hash"`
	LastTxHash      string               `json:"last_tx_hash"`
	EndTxHash       *string              `json:"end_tx_hash,omitempty"`
	CreatedAt       string               `json:"created_at" format:"date-time"`
	UpdatedAt       string               `json:"updated_at" format:"date-time"`
}

type RunReconcileResponse struct {
	Report engine.ReconcileReport `json:"report"`
	Op     *domain.LedgerOp       `json:"op,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	TxHash     string         `json:"tx_hash,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		TxHash:     e.TxHash,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

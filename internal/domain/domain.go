package domain

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserDisabled UserStatus = "disabled"
)

type User struct {
	ID            int64      `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	Status        UserStatus `json:"status" enum:"active,disabled"`
	LedgerAddress *string    `json:"ledger_address,omitempty"`
	CreatedAt     string     `json:"created_at" format:"date-time"`
}

// Work is the projection of a ledger-registered work. WorkID is assigned by the ledger.
type Work struct {
	WorkID      int64   `json:"work_id"`
	OwnerID     int64   `json:"owner_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	Category    string  `json:"category,omitempty"`
	CopyrightID *string `json:"copyright_id,omitempty"`
	IsOnAuction bool    `json:"is_on_auction"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type AuctionStatus string

const (
	AuctionActive AuctionStatus = "active"
	AuctionEnded  AuctionStatus = "ended"
)

// Auction is the projection of a ledger auction. AuctionID is the ledger counter value.
type Auction struct {
	AuctionID       int64         `json:"auction_id"`
	WorkID          int64         `json:"work_id"`
	SellerID        int64         `json:"seller_id"`
	StartPrice      Amount        `json:"start_price"`
	CurrentPrice    Amount        `json:"current_price"`
	HighestBidderID *int64        `json:"highest_bidder_id,omitempty"`
	EndTime         string        `json:"end_time" format:"date-time"`
	Status          AuctionStatus `json:"status" enum:"active,ended"`
	StartTxHash     string        `json:"start_tx_hash"`
	LastTxHash      string        `json:"last_tx_hash"`
	EndTxHash       *string       `json:"end_tx_hash,omitempty"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
	UpdatedAt       string        `json:"updated_at" format:"date-time"`
}

// Bid is one accepted bid; rows are never updated.
type Bid struct {
	ID          int64  `json:"id"`
	AuctionID   int64  `json:"auction_id"`
	BidderID    int64  `json:"bidder_id"`
	Amount      Amount `json:"amount"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	TxIndex     uint64 `json:"tx_index"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type LedgerOpKind string

const (
	OpStartAuction LedgerOpKind = "start_auction"
	OpPlaceBid     LedgerOpKind = "place_bid"
	OpEndAuction   LedgerOpKind = "end_auction"
)

type LedgerOpStatus string

const (
	OpSubmitted  LedgerOpStatus = "submitted"
	OpConfirmed  LedgerOpStatus = "confirmed"
	OpReconciled LedgerOpStatus = "reconciled"
	OpFailed     LedgerOpStatus = "failed"
	OpUnknown    LedgerOpStatus = "unknown"
)

// LedgerOp journals one mutating ledger call. TxHash is the idempotency key for
// the projection write that follows it.
type LedgerOp struct {
	ID              string         `json:"id"`
	Kind            LedgerOpKind   `json:"kind"`
	Status          LedgerOpStatus `json:"status"`
	TxHash          *string        `json:"tx_hash,omitempty"`
	AuctionID       *int64         `json:"auction_id,omitempty"`
	WorkID          *int64         `json:"work_id,omitempty"`
	ActorID         int64          `json:"actor_id"`
	Amount          *Amount        `json:"amount,omitempty"`
	DurationSeconds int64          `json:"duration_seconds,omitempty"`
	BlockNumber     uint64         `json:"block_number,omitempty"`
	TxIndex         uint64         `json:"tx_index,omitempty"`
	Error           string         `json:"error,omitempty"`
	Attempts        int            `json:"attempts"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	TxHash     string `json:"tx_hash,omitempty"`
	Payload    string `json:"payload_json"`
}

// AuctionSummary is one row of the active auctions listing.
type AuctionSummary struct {
	AuctionID      int64  `json:"auction_id"`
	WorkID         int64  `json:"work_id"`
	Title          string `json:"title"`
	Category       string `json:"category,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	StartPrice     Amount `json:"start_price"`
	CurrentPrice   Amount `json:"current_price"`
	EndTime        string `json:"end_time" format:"date-time"`
	SellerUsername string `json:"seller_username"`
}

type BidView struct {
	BidderID       int64  `json:"bidder_id"`
	BidderUsername string `json:"bidder_username,omitempty"`
	Amount         Amount `json:"amount"`
	TxHash         string `json:"tx_hash"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// AuctionDetail is the active auction of a work as shown to one viewer.
type AuctionDetail struct {
	AuctionID       int64     `json:"auction_id"`
	WorkID          int64     `json:"work_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	CopyrightID     string    `json:"copyright_id,omitempty"`
	StartPrice      Amount    `json:"start_price"`
	CurrentPrice    Amount    `json:"current_price"`
	HighestBidderID *int64    `json:"highest_bidder_id,omitempty"`
	EndTime         string    `json:"end_time" format:"date-time"`
	SellerUsername  string    `json:"seller_username"`
	IsOwner         bool      `json:"is_owner"`
	Bids            []BidView `json:"bids"`
}

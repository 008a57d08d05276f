// Package httpgw talks to the auction contract through a WeBASE-Front style
// "trans/handle" endpoint: every call, mutating or constant, is one JSON POST
// naming the contract function and its parameters.
package httpgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"copyauction/internal/ledger"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultSuccessStatus = "0x0"
	defaultGroupID       = "1"
)

// Config for the gateway.
type Config struct {
	URL             string
	ContractAddress string
	GroupID         string
	// ABI is the contract ABI JSON array sent along with each call.
	ABI           json.RawMessage
	SuccessStatus string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Gateway implements ledger.Gateway over HTTP.
type Gateway struct {
	cfg    Config
	client *http.Client
}

// New validates cfg and returns a gateway.
func New(cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("ledger url is required")
	}
	if strings.TrimSpace(cfg.ContractAddress) == "" {
		return nil, errors.New("contract address is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = defaultGroupID
	}
	if cfg.SuccessStatus == "" {
		cfg.SuccessStatus = defaultSuccessStatus
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.ABI) == 0 {
		cfg.ABI = json.RawMessage("[]")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gateway{cfg: cfg, client: client}, nil
}

type callRequest struct {
	GroupID         string          `json:"groupId"`
	User            string          `json:"user"`
	ContractPath    string          `json:"contractPath"`
	ContractAbi     json.RawMessage `json:"contractAbi"`
	UseAes          bool            `json:"useAes"`
	UseCns          bool            `json:"useCns"`
	CnsName         string          `json:"cnsName"`
	ContractAddress string          `json:"contractAddress"`
	FuncName        string          `json:"funcName"`
	FuncParam       []any           `json:"funcParam"`
}

type receiptBody struct {
	TransactionHash  string     `json:"transactionHash"`
	Status           string     `json:"status"`
	Output           string     `json:"output"`
	BlockNumber      flexNumber `json:"blockNumber"`
	TransactionIndex flexNumber `json:"transactionIndex"`
	Code             *int       `json:"code"`
	ErrorMessage     string     `json:"errorMessage"`
	Message          string     `json:"message"`
}

func (g *Gateway) StartAuction(ctx context.Context, opts ledger.CallOpts, workID uint64, startPrice *big.Int, durationMillis uint64) (ledger.Receipt, error) {
	return g.transact(ctx, opts, "startAuction", []any{
		strconv.FormatUint(workID, 10),
		startPrice.String(),
		strconv.FormatUint(durationMillis, 10),
	})
}

func (g *Gateway) PlaceBid(ctx context.Context, opts ledger.CallOpts, auctionID uint64, amount *big.Int) (ledger.Receipt, error) {
	return g.transact(ctx, opts, "placeBid", []any{strconv.FormatUint(auctionID, 10), amount.String()})
}

func (g *Gateway) EndAuction(ctx context.Context, opts ledger.CallOpts, auctionID uint64) (ledger.Receipt, error) {
	return g.transact(ctx, opts, "endAuction", []any{strconv.FormatUint(auctionID, 10)})
}

func (g *Gateway) AuctionCounter(ctx context.Context) (uint64, error) {
	values, err := g.query(ctx, "auctionCounter", nil)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("auctionCounter: expected 1 value, got %d", len(values))
	}
	return parseUint(values[0])
}

// Auction reads the contract's public auctions(uint256) getter, laid out as
// (auctionId, workId, seller, startPrice, highestBid, highestBidder, endTime, ended).
func (g *Gateway) Auction(ctx context.Context, auctionID uint64) (ledger.AuctionState, error) {
	values, err := g.query(ctx, "auctions", []any{strconv.FormatUint(auctionID, 10)})
	if err != nil {
		return ledger.AuctionState{}, err
	}
	if len(values) < 8 {
		return ledger.AuctionState{}, fmt.Errorf("auctions: expected 8 values, got %d", len(values))
	}
	id, err := parseUint(values[0])
	if err != nil {
		return ledger.AuctionState{}, fmt.Errorf("auctions.auctionId: %w", err)
	}
	if id == 0 {
		return ledger.AuctionState{}, ledger.ErrAuctionNotFound
	}
	st := ledger.AuctionState{AuctionID: id}
	if st.WorkID, err = parseUint(values[1]); err != nil {
		return st, fmt.Errorf("auctions.workId: %w", err)
	}
	st.Seller = strings.ToLower(valueString(values[2]))
	if st.StartPrice, err = parseBig(values[3]); err != nil {
		return st, fmt.Errorf("auctions.startPrice: %w", err)
	}
	if st.HighestBid, err = parseBig(values[4]); err != nil {
		return st, fmt.Errorf("auctions.highestBid: %w", err)
	}
	st.HighestBidder = strings.ToLower(valueString(values[5]))
	if isZeroAddress(st.HighestBidder) {
		st.HighestBidder = ""
	}
	if st.EndTimeMillis, err = parseUint(values[6]); err != nil {
		return st, fmt.Errorf("auctions.endTime: %w", err)
	}
	st.Ended = strings.EqualFold(valueString(values[7]), "true")
	return st, nil
}

func (g *Gateway) transact(ctx context.Context, opts ledger.CallOpts, fn string, params []any) (ledger.Receipt, error) {
	if strings.TrimSpace(opts.From) == "" {
		return ledger.Receipt{}, fmt.Errorf("%s: sender address required", fn)
	}
	res, err := g.post(ctx, opts.From, fn, params)
	if err != nil {
		if sent(err) {
			return ledger.Receipt{}, ledger.UnknownOutcome(fn, err)
		}
		return ledger.Receipt{}, fmt.Errorf("%s: %w", fn, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return ledger.Receipt{}, ledger.UnknownOutcome(fn, err)
	}
	if res.StatusCode >= 500 {
		return ledger.Receipt{}, ledger.UnknownOutcome(fn, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}
	if res.StatusCode >= 300 {
		return ledger.Receipt{}, fmt.Errorf("%s: status %d: %s", fn, res.StatusCode, strings.TrimSpace(string(body)))
	}
	var rb receiptBody
	if err := json.Unmarshal(body, &rb); err != nil {
		return ledger.Receipt{}, ledger.UnknownOutcome(fn, fmt.Errorf("decode receipt: %w", err))
	}
	if rb.TransactionHash == "" {
		msg := rb.ErrorMessage
		if msg == "" {
			msg = rb.Message
		}
		if rb.Code != nil && *rb.Code != 0 {
			return ledger.Receipt{}, fmt.Errorf("%s: front error %d: %s", fn, *rb.Code, msg)
		}
		return ledger.Receipt{}, ledger.UnknownOutcome(fn, errors.New("receipt without transaction hash"))
	}
	return ledger.Receipt{
		Success:     strings.EqualFold(rb.Status, g.cfg.SuccessStatus),
		Status:      rb.Status,
		TxHash:      rb.TransactionHash,
		Output:      []byte(rb.Output),
		BlockNumber: uint64(rb.BlockNumber),
		TxIndex:     uint64(rb.TransactionIndex),
	}, nil
}

func (g *Gateway) query(ctx context.Context, fn string, params []any) ([]any, error) {
	res, err := g.post(ctx, g.cfg.ContractAddress, fn, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status %d: %s", fn, res.StatusCode, strings.TrimSpace(string(body)))
	}
	var values []any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("%s: decode result: %w", fn, err)
	}
	return values, nil
}

func (g *Gateway) post(ctx context.Context, user, fn string, params []any) (*http.Response, error) {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(callRequest{
		GroupID:         g.cfg.GroupID,
		User:            user,
		ContractPath:    "/",
		ContractAbi:     g.cfg.ABI,
		ContractAddress: g.cfg.ContractAddress,
		FuncName:        fn,
		FuncParam:       params,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	return g.client.Do(req)
}

// sent reports whether a transport error may have happened after the request
// reached the front. Dial failures cannot have submitted anything.
func sent(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	return true
}

type flexNumber uint64

// UnmarshalJSON accepts 12, "12" and "0xc".
func (n *flexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	v, err := parseUint(raw)
	if err != nil {
		return err
	}
	*n = flexNumber(v)
	return nil
}

func parseUint(v any) (uint64, error) {
	s := valueString(v)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseBig(v any) (*big.Int, error) {
	s := valueString(v)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", valueString(v))
	}
	return n, nil
}

func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func isZeroAddress(addr string) bool {
	return addr == "" || strings.Trim(strings.TrimPrefix(addr, "0x"), "0") == ""
}

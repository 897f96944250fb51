package jito

// relay.go: block-engine relay over JSON-RPC.
//
// Bundles go to /api/v1/bundles, single transactions to /api/v1/transactions.
// One HTTP round trip per call: retries, rate limiting and circuit breaking
// belong to the execution client wrapping this adapter. Every failure the
// relay itself reports (HTTP 429/5xx or a JSON-RPC error payload) is tagged
// domain.ErrRPC so that wrapper treats it as transient.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// DefaultEndpoint is the Frankfurt block engine.
const DefaultEndpoint = "https://frankfurt.mainnet.block-engine.jito.wtf"

const (
	bundlesPath      = "/api/v1/bundles"
	transactionsPath = "/api/v1/transactions"
)

// Relay implements ports.BundleRelay.
type Relay struct {
	http      *http.Client
	base      string
	uuid      string
	plainSend bool
	nextID    atomic.Uint64
}

var _ ports.BundleRelay = (*Relay)(nil)

// Options tune the relay adapter.
type Options struct {
	AuthUUID  string // sent as x-jito-auth when the relay grants a higher tier
	PlainSend bool   // enables the single-transaction endpoint
	Timeout   time.Duration
}

// New creates a relay client for endpoint (DefaultEndpoint when empty).
func New(endpoint string, opts Options) *Relay {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Relay{
		http:      &http.Client{Timeout: opts.Timeout},
		base:      strings.TrimRight(endpoint, "/"),
		uuid:      opts.AuthUUID,
		plainSend: opts.PlainSend,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call posts one JSON-RPC request and decodes result into out.
func (r *Relay) call(ctx context.Context, path, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: r.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.uuid != "" {
		req.Header.Set("x-jito-auth", r.uuid)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", domain.ErrRPC, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s: status %d", domain.ErrRPC, method, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: client error %d: %s", method, resp.StatusCode, string(msg))
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("%w: %s: decode response: %w", domain.ErrRPC, method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%w: %s: relay error %d: %s", domain.ErrRPC, method, rr.Error.Code, rr.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// SendBundle submits base58-encoded transactions and returns the bundle id.
func (r *Relay) SendBundle(ctx context.Context, txs [][]byte) (string, error) {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i] = base58.Encode(tx)
	}
	var id string
	if err := r.call(ctx, bundlesPath, "sendBundle", []any{encoded}, &id); err != nil {
		return "", fmt.Errorf("jito.SendBundle: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("jito.SendBundle: %w: empty bundle id", domain.ErrRPC)
	}
	return id, nil
}

type inflightStatus struct {
	BundleID   string  `json:"bundle_id"`
	Status     string  `json:"status"`
	LandedSlot *uint64 `json:"landed_slot"`
}

// GetBundleStatus reads the in-flight status of a bundle submitted in the
// last few minutes.
func (r *Relay) GetBundleStatus(ctx context.Context, bundleID string) (domain.BundleState, error) {
	var out struct {
		Value []inflightStatus `json:"value"`
	}
	if err := r.call(ctx, bundlesPath, "getInflightBundleStatuses", []any{[]string{bundleID}}, &out); err != nil {
		return domain.BundleState{}, fmt.Errorf("jito.GetBundleStatus: %w", err)
	}

	st := domain.BundleState{ID: bundleID}
	for _, v := range out.Value {
		if v.BundleID != bundleID {
			continue
		}
		st.Status = parseStatus(v.Status)
		if v.LandedSlot != nil {
			st.LandedSlot = *v.LandedSlot
		}
	}
	return st, nil
}

func parseStatus(s string) domain.BundleStatus {
	switch s {
	case "Pending":
		return domain.BundlePending
	case "Landed":
		return domain.BundleLanded
	case "Failed":
		return domain.BundleFailed
	case "Invalid":
		return domain.BundleInvalid
	default:
		return domain.BundleUnknown
	}
}

func (r *Relay) SupportsPlainSend() bool { return r.plainSend }

// SendTransaction forwards one base64-encoded transaction.
func (r *Relay) SendTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	if !r.plainSend {
		return solana.Signature{}, fmt.Errorf("jito.SendTransaction: plain send disabled")
	}
	params := []any{base64.StdEncoding.EncodeToString(raw), map[string]string{"encoding": "base64"}}
	var sig string
	if err := r.call(ctx, transactionsPath, "sendTransaction", params, &sig); err != nil {
		return solana.Signature{}, fmt.Errorf("jito.SendTransaction: %w", err)
	}
	out, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("jito.SendTransaction: parse signature %q: %w", sig, err)
	}
	return out, nil
}

// GetLatestBlockhash asks the relay's RPC proxy for a blockhash.
func (r *Relay) GetLatestBlockhash(ctx context.Context) (domain.Blockhash, error) {
	var out struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	params := []any{map[string]string{"commitment": "confirmed"}}
	if err := r.call(ctx, "", "getLatestBlockhash", params, &out); err != nil {
		return domain.Blockhash{}, fmt.Errorf("jito.GetLatestBlockhash: %w", err)
	}
	hash, err := solana.HashFromBase58(out.Value.Blockhash)
	if err != nil {
		return domain.Blockhash{}, fmt.Errorf("jito.GetLatestBlockhash: parse %q: %w", out.Value.Blockhash, err)
	}
	return domain.Blockhash{Hash: hash, LastValidBlockHeight: out.Value.LastValidBlockHeight}, nil
}

package chainrpc_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/liquidator/internal/adapters/chainrpc"
	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// --- fake node ---

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type fakeNode struct {
	mu       sync.Mutex
	requests []rpcRequest
	results  map[string]string // method -> raw JSON result
	errors   map[string]string // method -> raw JSON error
}

func newFakeNode(t *testing.T) (*fakeNode, *chainrpc.Client) {
	t.Helper()
	n := &fakeNode{results: map[string]string{}, errors: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)
	return n, chainrpc.New(srv.URL, 1000)
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.requests = append(n.requests, req)
	result, hasResult := n.results[req.Method]
	rpcErr, hasErr := n.errors[req.Method]
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case hasErr:
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":` + rpcErr + `}`))
	case hasResult:
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (n *fakeNode) setResult(method, raw string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results[method] = raw
}

func (n *fakeNode) setError(method, raw string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors[method] = raw
}

func (n *fakeNode) last() rpcRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requests[len(n.requests)-1]
}

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

func accountJSON(owner solana.PublicKey, lamports uint64, data []byte) string {
	return `{"lamports":` + jsonNum(lamports) + `,"owner":"` + owner.String() +
		`","data":["` + base64.StdEncoding.EncodeToString(data) + `","base64"],"executable":false,"rentEpoch":0}`
}

func jsonNum(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// --- tests ---

func TestGetBalance(t *testing.T) {
	node, c := newFakeNode(t)
	node.setResult("getBalance", `{"context":{"slot":10},"value":1500000000}`)

	bal, err := c.GetBalance(context.Background(), key(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), bal)
}

func TestGetLatestBlockhash(t *testing.T) {
	node, c := newFakeNode(t)
	hash := solana.Hash(key(7))
	node.setResult("getLatestBlockhash", `{"context":{"slot":10},"value":{"blockhash":"` + hash.String() + `","lastValidBlockHeight":3090}}`)

	bh, err := c.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, bh.Hash)
	assert.Equal(t, uint64(3090), bh.LastValidBlockHeight)
}

func TestGetAccountInfo(t *testing.T) {
	node, c := newFakeNode(t)
	node.setResult("getAccountInfo", `{"context":{"slot":10},"value":` + accountJSON(key(9), 42, []byte{1, 2, 3}) + `}`)

	info, err := c.GetAccountInfo(context.Background(), key(1))
	require.NoError(t, err)
	assert.Equal(t, key(1), info.Address)
	assert.Equal(t, key(9), info.Owner)
	assert.Equal(t, uint64(42), info.Lamports)
	assert.Equal(t, []byte{1, 2, 3}, info.Data)
}

func TestGetAccountInfo_MissingIsNotFound(t *testing.T) {
	node, c := newFakeNode(t)
	node.setResult("getAccountInfo", `{"context":{"slot":10},"value":null}`)

	_, err := c.GetAccountInfo(context.Background(), key(1))
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.NotErrorIs(t, err, domain.ErrRPC)
}

func TestTransportFailureIsRPCError(t *testing.T) {
	_, c := newFakeNode(t) // no result configured: 503

	_, err := c.GetBalance(context.Background(), key(1))
	require.ErrorIs(t, err, domain.ErrRPC)
}

func TestGetTokenBalance(t *testing.T) {
	node, c := newFakeNode(t)
	node.setResult("getTokenAccountBalance", `{"context":{"slot":10},"value":{"amount":"123456789","decimals":6,"uiAmount":123.456789,"uiAmountString":"123.456789"}}`)

	bal, err := c.GetTokenBalance(context.Background(), key(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(123_456_789), bal)
}

func TestGetTokenBalance_UnknownAccount(t *testing.T) {
	node, c := newFakeNode(t)
	node.setError("getTokenAccountBalance", `{"code":-32602,"message":"Invalid param: could not find account"}`)

	_, err := c.GetTokenBalance(context.Background(), key(1))
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestGetMultipleAccounts_KeepsPositions(t *testing.T) {
	node, c := newFakeNode(t)
	node.setResult("getMultipleAccounts", `{"context":{"slot":10},"value":[` +
		accountJSON(key(9), 1, []byte{0xAA}) + `,null]}`)

	out, err := c.GetMultipleAccounts(context.Background(), []solana.PublicKey{key(1), key(2)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotNil(t, out[0])
	assert.Equal(t, key(1), out[0].Address)
	assert.Equal(t, []byte{0xAA}, out[0].Data)
	assert.Nil(t, out[1])
}

func TestGetProgramAccounts_SendsFilters(t *testing.T) {
	node, c := newFakeNode(t)
	node.setResult("getProgramAccounts", `[{"pubkey":"` + key(5).String() + `","account":` + accountJSON(key(9), 1, []byte{7}) + `}]`)

	market := key(3)
	out, err := c.GetProgramAccounts(context.Background(), key(9), ports.ProgramAccountFilter{
		DataSize:     1300,
		MemcmpOffset: 10,
		MemcmpBytes:  market.Bytes(),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, key(5), out[0].Address)
	assert.Equal(t, []byte{7}, out[0].Data)

	req := node.last()
	require.Len(t, req.Params, 2)
	var opts struct {
		Filters []struct {
			DataSize uint64 `json:"dataSize"`
			Memcmp   *struct {
				Offset uint64 `json:"offset"`
				Bytes  string `json:"bytes"`
			} `json:"memcmp"`
		} `json:"filters"`
	}
	require.NoError(t, json.Unmarshal(req.Params[1], &opts))
	require.Len(t, opts.Filters, 2)
	assert.Equal(t, uint64(1300), opts.Filters[0].DataSize)
	require.NotNil(t, opts.Filters[1].Memcmp)
	assert.Equal(t, uint64(10), opts.Filters[1].Memcmp.Offset)
	assert.Equal(t, market.String(), opts.Filters[1].Memcmp.Bytes)
}

func TestGetSignatureStatus(t *testing.T) {
	node, c := newFakeNode(t)
	node.setResult("getSignatureStatuses", `{"context":{"slot":10},"value":[{"slot":99,"confirmations":null,"err":null,"confirmationStatus":"finalized"}]}`)

	st, err := c.GetSignatureStatus(context.Background(), solana.Signature{})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, uint64(99), st.Slot)
	assert.Equal(t, "finalized", st.ConfirmationStatus)
	assert.Nil(t, st.Err)

	node.setResult("getSignatureStatuses", `{"context":{"slot":10},"value":[null]}`)
	st, err = c.GetSignatureStatus(context.Background(), solana.Signature{})
	require.NoError(t, err)
	assert.Nil(t, st)
}

package solend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/liquidator/internal/adapters/solend"
)

const marketsFixture = `[
  {
    "name": "main",
    "isPrimary": true,
    "address": "4UpD2fh7xH3VP9QQaXtsS1YY3bxzWhtfpks7FatyKvdY",
    "authorityAddress": "DdZR6zRFiUt4S5mg7AV1uKB2z1f1WzcNYCaTEEWPAuby",
    "lookupTableAddress": "89ig7Cu6Roi9mJMqpY8sBkPYL2cnqzpgP16sJxSUbvct",
    "reserves": [
      {
        "address": "8PbodeaosQP19SjYFx855UMqWxH2HynZLdBXmsrbac36",
        "liquidityToken": {"mint": "So11111111111111111111111111111111111111112", "symbol": "SOL", "decimals": 9},
        "pythOracle": "H6ARHf6YXhGYeQfUzQNGk6rDNnLBQKrenN712K4AQJEG",
        "switchboardOracle": "nu11111111111111111111111111111111111111111",
        "collateralMintAddress": "5h6ssFpeDeRbzsEHDbTQNH7nVGgsKrZydxdSTnLm6QdV",
        "collateralSupplyAddress": "B1ATuYXNkacjjJS78MAmqu8Lu8PvEPt51u4oBasH1m1g",
        "liquidityAddress": "8UviNr47S8eL6J3WfDxMRa3hvLta1VDJwNWqsDgtN3Cv",
        "liquidityFeeReceiverAddress": "5wo1tFpi4HaVKnemqaXeQnBEpezrJXcXvuztYaPhvgC7"
      },
      {
        "address": "not-a-key",
        "liquidityToken": {"mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "symbol": "USDC", "decimals": 6}
      }
    ]
  },
  {
    "name": "empty",
    "address": "GktVYgkstojYd8nVXGXKJHi7SstvgZ6pkQqQhUPD7y7Q",
    "authorityAddress": "DdZR6zRFiUt4S5mg7AV1uKB2z1f1WzcNYCaTEEWPAuby",
    "reserves": []
  }
]`

func TestFetchMarkets_ValidatesAtBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(marketsFixture))
	}))
	defer srv.Close()

	markets, err := solend.NewMarketClient(srv.URL, 1, time.Millisecond).FetchMarkets(context.Background())
	require.NoError(t, err)

	require.Len(t, markets, 1, "market without reserves is dropped")
	m := markets[0]
	assert.Equal(t, "main", m.Name)
	assert.True(t, m.IsPrimary)
	assert.Equal(t, "89ig7Cu6Roi9mJMqpY8sBkPYL2cnqzpgP16sJxSUbvct", m.LookupTable.String())

	require.Len(t, m.Reserves, 1, "reserve with a bad address is dropped")
	r := m.Reserves[0]
	assert.Equal(t, "SOL", r.Symbol)
	assert.Equal(t, uint8(9), r.Decimals)
	assert.Equal(t, "H6ARHf6YXhGYeQfUzQNGk6rDNnLBQKrenN712K4AQJEG", r.PrimaryOracle.String())
	assert.Equal(t, "8UviNr47S8eL6J3WfDxMRa3hvLta1VDJwNWqsDgtN3Cv", r.LiquiditySupply.String())
}

func TestFetchMarkets_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(marketsFixture))
	}))
	defer srv.Close()

	markets, err := solend.NewMarketClient(srv.URL, 3, time.Millisecond).FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchMarkets_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := solend.NewMarketClient(srv.URL, 2, time.Millisecond).FetchMarkets(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMarketsURL(t *testing.T) {
	assert.Contains(t, solend.MarketsURL("dev"), "devnet")
	assert.Contains(t, solend.MarketsURL("production"), "production")
}

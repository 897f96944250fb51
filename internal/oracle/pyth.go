package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Primary oracle price account (v2 layout).
const (
	pythMagic            = 0xa1b2c3d4
	pythAccountTypePrice = 3
	pythStatusTrading    = 1

	pythOffsetType   = 8
	pythOffsetExpo   = 20
	pythOffsetPrice  = 208
	pythOffsetConf   = 216
	pythOffsetStatus = 224
	pythOffsetSlot   = 232
	pythMinSize      = 240
)

var errNotTrading = errors.New("price status is not trading")

type pythPrice struct {
	Price       decimal.Decimal
	Confidence  decimal.Decimal
	Status      uint32
	PublishSlot uint64
}

func decodePythPrice(data []byte) (pythPrice, error) {
	if len(data) < pythMinSize {
		return pythPrice{}, fmt.Errorf("pyth: account too short (%d bytes)", len(data))
	}
	le := binary.LittleEndian
	if magic := le.Uint32(data[0:4]); magic != pythMagic {
		return pythPrice{}, fmt.Errorf("pyth: bad magic %#x", magic)
	}
	if typ := le.Uint32(data[pythOffsetType:]); typ != pythAccountTypePrice {
		return pythPrice{}, fmt.Errorf("pyth: account type %d is not a price account", typ)
	}

	expo := int32(le.Uint32(data[pythOffsetExpo:]))
	raw := int64(le.Uint64(data[pythOffsetPrice:]))
	conf := le.Uint64(data[pythOffsetConf:])

	return pythPrice{
		Price:       decimal.New(raw, expo),
		Confidence:  decimal.NewFromBigInt(new(big.Int).SetUint64(conf), expo),
		Status:      le.Uint32(data[pythOffsetStatus:]),
		PublishSlot: le.Uint64(data[pythOffsetSlot:]),
	}, nil
}

// confidenceBps is confidence/price in basis points.
func (p pythPrice) confidenceBps() decimal.Decimal {
	if p.Price.IsZero() {
		return decimal.NewFromInt(10_000)
	}
	return p.Confidence.Div(p.Price.Abs()).Mul(decimal.NewFromInt(10_000))
}

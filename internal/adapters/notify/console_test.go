package notify_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/liquidator/internal/adapters/notify"
	"github.com/alejandrodnm/liquidator/internal/metrics"
)

func snapshot() metrics.Snapshot {
	return metrics.Snapshot{
		Epochs:               3,
		ObligationsScanned:   412,
		ObligationsUnhealthy: 7,
		Attempts:             4,
		Successes:            3,
		Failures:             1,
		Profit: []metrics.ProfitEntry{
			{Symbol: "SOL", BaseUnits: 1_250_000},
			{Symbol: "USDC", BaseUnits: -300},
		},
	}
}

func TestConsole_Report_Table(t *testing.T) {
	var buf bytes.Buffer
	err := notify.NewConsoleWriter(&buf, true).Report(context.Background(), 4, snapshot())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "epoch 4")
	assert.Contains(t, out, "412")
	assert.Contains(t, out, "75.0")
	assert.Contains(t, out, "SOL")
	assert.Contains(t, out, "+1250000")
	assert.Contains(t, out, "-300")
}

func TestConsole_Report_NoProfitYet(t *testing.T) {
	var buf bytes.Buffer
	err := notify.NewConsoleWriter(&buf, true).Report(context.Background(), 1, metrics.Snapshot{})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "no realized profit yet")
}

func TestConsole_Report_Compact(t *testing.T) {
	var buf bytes.Buffer
	err := notify.NewConsoleWriter(&buf, false).Report(context.Background(), 4, snapshot())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "epoch 4: scanned 412, unhealthy 7, liquidations 3/4, failures 1")
	assert.Contains(t, out, "| SOL +1250000 | USDC -300")
}

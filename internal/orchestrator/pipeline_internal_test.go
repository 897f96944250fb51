package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepayAmount(t *testing.T) {
	cases := []struct {
		owed uint64
		cf   uint8
		want uint64
	}{
		{0, 20, 0},
		{2, 20, 2},
		{3, 20, 1},
		{85, 20, 17},
		{100, 100, 100},
		{1_000_000_007, 20, 200_000_001},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, repayAmount(c.owed, c.cf), "owed=%d cf=%d", c.owed, c.cf)
	}
}

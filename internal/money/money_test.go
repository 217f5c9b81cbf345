package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeBps(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		bps     int64
		want    int64
		wantErr bool
	}{
		{name: "payer fee 1.9% on 10000", amount: 10000, bps: 190, want: 190},
		{name: "payee fee 3.6% on 5000", amount: 5000, bps: 360, want: 180},
		{name: "rounds half up", amount: 25, bps: 190, want: 0},   // 0.475 -> 0
		{name: "rounds half up at .5", amount: 50, bps: 100, want: 1}, // 0.5 -> 1
		{name: "zero amount", amount: 0, bps: 360, want: 0},
		{name: "zero rate", amount: 12345, bps: 0, want: 0},
		{name: "full rate", amount: 777, bps: 10000, want: 777},
		{name: "negative amount", amount: -1, bps: 100, wantErr: true},
		{name: "rate over 100%", amount: 100, bps: 10001, wantErr: true},
		{name: "negative rate", amount: 100, bps: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FeeBps(tt.amount, tt.bps)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNetReconcilesExactly(t *testing.T) {
	// net + fee must equal the gross amount for every penny.
	for amount := int64(0); amount < 2000; amount++ {
		net, fee, err := Net(amount, 360)
		require.NoError(t, err)
		assert.Equal(t, amount, net+fee, "amount %d", amount)
	}
}

func TestGross(t *testing.T) {
	gross, fee, err := Gross(10000, 190)
	require.NoError(t, err)
	assert.Equal(t, int64(10190), gross)
	assert.Equal(t, int64(190), fee)
}

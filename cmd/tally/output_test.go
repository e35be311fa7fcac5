package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "12", want: 1200},
		{in: "12.5", want: 1250},
		{in: "12.05", want: 1205},
		{in: " 0.99 ", want: 99},
		{in: "0", want: 0},
		{in: "", wantErr: true},
		{in: "12.", wantErr: true},
		{in: ".5", wantErr: true},
		{in: "12.345", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "1,50", wantErr: true},
		{in: "1.-5", wantErr: true},
		{in: "1.+5", wantErr: true},
		{in: "+3", wantErr: true},
		{in: "184467440737095517", wantErr: true},
		{in: "92233720368547758.07", wantErr: true},
		{in: "92233720368547757", want: 9223372036854775700},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBadAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.00", formatAmount(0))
	assert.Equal(t, "12.05", formatAmount(1205))
	assert.Equal(t, "-0.50", formatAmount(-50))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"debtor", "add"}, {"tx", "payment"}, {"promise", "expire"},
		{"sync"}, {"restore"}, {"report", "heatmap"}, {"serve"}, {"daemon"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

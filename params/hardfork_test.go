package params

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHardfork(t *testing.T) {
	tests := []struct {
		in   string
		want Hardfork
	}{
		{"london", London},
		{"LONDON", London},
		{"spuriousDragon", SpuriousDragon},
		{"merge", Paris},
		{" cancun ", Cancun},
	}
	for _, tt := range tests {
		got, err := ParseHardfork(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseHardfork("atlantis")
	require.Error(t, err)
}

func TestHardforkTextRoundTrip(t *testing.T) {
	var h Hardfork
	require.NoError(t, h.UnmarshalText([]byte("shanghai")))
	require.Equal(t, Shanghai, h)
	out, err := h.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "shanghai", string(out))
}

func TestPreMerge(t *testing.T) {
	if Paris.PreMerge() != GrayGlacier {
		t.Fatalf("paris should map to grayGlacier, got %s", Paris.PreMerge())
	}
	if Cancun.PreMerge() != Cancun {
		t.Fatalf("cancun should map to itself")
	}
	if GrayGlacier.PreMerge() != Paris.PreMerge() {
		t.Fatalf("grayGlacier and paris must compare equal for execution")
	}
}

func TestIsActivated(t *testing.T) {
	tests := []struct {
		fork Hardfork
		eip  int
		want bool
	}{
		{Istanbul, 1559, false},
		{London, 1559, true},
		{Berlin, 2929, true},
		{Istanbul, 2930, false},
		{Shanghai, 3651, true},
		{London, 3651, false},
		{Cancun, 4844, true},
		{Shanghai, 6780, false},
		{Prague, 6780, true},
		{Prague, 9999, false},
	}
	for _, tt := range tests {
		if got := tt.fork.IsActivated(tt.eip); got != tt.want {
			t.Errorf("%s.IsActivated(%d) = %v, want %v", tt.fork, tt.eip, got, tt.want)
		}
	}
}

package engine

import "testing"

func TestCloseLimitPrice(t *testing.T) {
	tests := []struct {
		bid, ask, want float64
	}{
		{0.60, 0.70, 0.67},
		{0.02, 0.04, 0.03},
		{1.00, 1.00, 1.00},
		{0.10, 1.00, 0.70},
	}
	for _, tc := range tests {
		if got := CloseLimitPrice(tc.bid, tc.ask); got != tc.want {
			t.Errorf("CloseLimitPrice(%v, %v) = %v, want %v", tc.bid, tc.ask, got, tc.want)
		}
	}
}

func TestOpenLimitPrice(t *testing.T) {
	tests := []struct {
		bid, ask, want float64
	}{
		{0.30, 0.35, 0.37},
		{0.10, 1.00, 1.30},
		{0.50, 0.50, 0.50},
	}
	for _, tc := range tests {
		if got := OpenLimitPrice(tc.bid, tc.ask); got != tc.want {
			t.Errorf("OpenLimitPrice(%v, %v) = %v, want %v", tc.bid, tc.ask, got, tc.want)
		}
	}
}

func TestRepriceDownStaysCentExact(t *testing.T) {
	price := 0.37
	// Ten successive one-cent cuts land exactly on 0.27.
	for i := 0; i < 10; i++ {
		price = RepriceDown(price)
	}
	if price != 0.27 {
		t.Errorf("price after ten cuts = %v, want 0.27", price)
	}
}

func TestFundingShares(t *testing.T) {
	tests := []struct {
		shortfall, high float64
		want            int
	}{
		{11900, 91.50, 131}, // truncates to 130, plus one
		{91.50, 91.50, 2},   // exact multiple still gets headroom
		{10, 91.50, 1},
		{100, 0, 0},
	}
	for _, tc := range tests {
		if got := FundingShares(tc.shortfall, tc.high); got != tc.want {
			t.Errorf("FundingShares(%v, %v) = %d, want %d", tc.shortfall, tc.high, got, tc.want)
		}
	}
}

func TestSweepShares(t *testing.T) {
	tests := []struct {
		bp, high float64
		want     int
	}{
		{1000, 91.50, 10},
		{91.49, 91.50, 0},
		{0, 91.50, 0},
		{1000, 0, 0},
	}
	for _, tc := range tests {
		if got := SweepShares(tc.bp, tc.high); got != tc.want {
			t.Errorf("SweepShares(%v, %v) = %d, want %d", tc.bp, tc.high, got, tc.want)
		}
	}
}

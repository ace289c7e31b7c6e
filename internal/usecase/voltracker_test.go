package usecase

import "testing"

func TestSpikeRatioWarmup(t *testing.T) {
	v := NewVolatilityTracker(5)

	v.Add("BTCUSDT", 1.0)
	v.Add("BTCUSDT", 1.0)
	if _, ok := v.SpikeRatio("BTCUSDT"); ok {
		t.Fatal("no ratio before the window is full")
	}
}

func TestSpikeRatioDetectsJump(t *testing.T) {
	v := NewVolatilityTracker(4)

	for _, s := range []float64{1.0, 1.0, 1.0, 3.0} {
		v.Add("BTCUSDT", s)
	}
	ratio, ok := v.SpikeRatio("BTCUSDT")
	if !ok {
		t.Fatal("window is full, expected a ratio")
	}
	if ratio != 3.0 {
		t.Fatalf("expected ratio 3.0, got %.2f", ratio)
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	v := NewVolatilityTracker(3)

	for _, s := range []float64{10.0, 1.0, 1.0, 1.0} {
		v.Add("BTCUSDT", s)
	}
	ratio, ok := v.SpikeRatio("BTCUSDT")
	if !ok {
		t.Fatal("expected a full window")
	}
	if ratio != 1.0 {
		t.Fatalf("evicted sample must not influence the ratio, got %.2f", ratio)
	}
}

func TestNonPositiveSamplesIgnored(t *testing.T) {
	v := NewVolatilityTracker(2)

	v.Add("BTCUSDT", 0)
	v.Add("BTCUSDT", -1)
	if v.WindowFull("BTCUSDT") {
		t.Fatal("non-positive samples must not fill the window")
	}
}

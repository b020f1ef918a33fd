package agent

import (
	"math/big"
	"testing"
)

func TestComputeROI(t *testing.T) {
	cases := []struct {
		name    string
		initial int64
		current int64
		want    int64
	}{
		{"zero initial", 0, 100, 0},
		{"unchanged", 100, 100, 0},
		{"10 percent gain", 100, 110, 1000},
		{"10 percent loss", 100, 90, -1000},
		{"rounds down", 3, 4, 3333},
		{"rounds down on loss", 3, 2, -3334},
		{"total loss", 100, 0, -10000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := computeROI(big.NewInt(tc.initial), big.NewInt(tc.current))
			if got != tc.want {
				t.Fatalf("computeROI(%d, %d) = %d, want %d", tc.initial, tc.current, got, tc.want)
			}
		})
	}
}

func TestComputeROILargeValues(t *testing.T) {
	// 18 位小数的 wei 余额必须不丢失精度。
	initial, _ := new(big.Int).SetString("1000000000000000000", 10)
	current, _ := new(big.Int).SetString("1005000000000000000", 10)
	if got := computeROI(initial, current); got != 50 {
		t.Fatalf("expected 50 basis points, got %d", got)
	}
}

func TestComputeROINilValues(t *testing.T) {
	if got := computeROI(nil, big.NewInt(1)); got != 0 {
		t.Fatalf("nil initial must yield 0, got %d", got)
	}
	if got := computeROI(big.NewInt(1), nil); got != 0 {
		t.Fatalf("nil current must yield 0, got %d", got)
	}
}

func TestStateCloneIsDeep(t *testing.T) {
	original := State{
		CurrentBalance: big.NewInt(100),
		Metrics: PerformanceMetrics{
			InitialValue: big.NewInt(50),
			CurrentValue: big.NewInt(100),
		},
		ActiveStrategies: []string{"stake-0x01"},
	}

	copied := original.clone()
	copied.CurrentBalance.SetInt64(0)
	copied.Metrics.InitialValue.SetInt64(0)
	copied.ActiveStrategies[0] = "mutated"

	if original.CurrentBalance.Int64() != 100 {
		t.Fatalf("clone must not share balance")
	}
	if original.Metrics.InitialValue.Int64() != 50 {
		t.Fatalf("clone must not share metrics")
	}
	if original.ActiveStrategies[0] != "stake-0x01" {
		t.Fatalf("clone must not share strategies")
	}
}

package reaper

import "testing"

func TestDeleteBatchSizeIsPositive(t *testing.T) {
	if deleteBatchSize <= 0 {
		t.Fatalf("expected a positive batch size, got %d", deleteBatchSize)
	}
}

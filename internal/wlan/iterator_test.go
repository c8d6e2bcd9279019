package wlan

import "testing"

func TestResultIterator_DeliversEverything(t *testing.T) {
	results := make([]ScanResult, 0, 500)
	for i := 0; i < 500; i++ {
		results = append(results, ScanResult{ID: NetworkIdentifier{SSID: "net"}})
	}
	it := NewResultIterator(results)

	total := 0
	for {
		batch, err := it.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch == nil {
			break
		}
		total += len(batch)
	}
	if total != 500 {
		t.Fatalf("delivered %d results, want 500", total)
	}
}

func TestResultIterator_OversizedSingleEntryIsFatal(t *testing.T) {
	huge := ScanResult{
		ID:      NetworkIdentifier{SSID: "huge"},
		Entries: make([]BSSDescription, 10000),
	}
	it := NewResultIterator([]ScanResult{huge})
	batch, err := it.Next()
	if err != ErrResultTooLarge {
		t.Fatalf("expected ErrResultTooLarge for an oversized single entry, got batch=%v err=%v", batch, err)
	}
	if _, err := it.Next(); err != ErrIteratorClosed {
		t.Fatalf("expected the iterator to be closed after ErrResultTooLarge, got %v", err)
	}
}

func TestResultIterator_CloseIsTolerated(t *testing.T) {
	it := NewResultIterator([]ScanResult{{ID: NetworkIdentifier{SSID: "a"}}})
	it.Close()
	_, err := it.Next()
	if err != ErrIteratorClosed {
		t.Fatalf("expected ErrIteratorClosed after Close, got %v", err)
	}
}

func TestResultIterator_Remaining(t *testing.T) {
	it := NewResultIterator([]ScanResult{{}, {}, {}})
	if it.Remaining() != 3 {
		t.Fatalf("remaining = %d, want 3", it.Remaining())
	}
	if _, err := it.Next(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0 after draining a small batch", it.Remaining())
	}
}

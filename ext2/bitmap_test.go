package ext2

import "testing"

func TestBitmapSetClearIsSet(t *testing.T) {
	bm := NewBitmap(17)
	if bm.Len() != 24 {
		t.Fatalf("Len() = %d, want 24 (rounded up to a byte)", bm.Len())
	}
	for i := 0; i < bm.Len(); i++ {
		set, err := bm.IsSet(i)
		if err != nil || set {
			t.Fatalf("bit %d should start clear, got set=%v err=%v", i, set, err)
		}
	}
	if err := bm.Set(3); err != nil {
		t.Fatal(err)
	}
	if set, _ := bm.IsSet(3); !set {
		t.Fatal("bit 3 should be set")
	}
	if set, _ := bm.IsSet(4); set {
		t.Fatal("bit 4 should still be clear")
	}
	if err := bm.Clear(3); err != nil {
		t.Fatal(err)
	}
	if set, _ := bm.IsSet(3); set {
		t.Fatal("bit 3 should be clear again")
	}
}

func TestBitmapOutOfBounds(t *testing.T) {
	bm := NewBitmap(8)
	if _, err := bm.IsSet(8); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if err := bm.Set(-1); err == nil {
		t.Fatal("expected out-of-bounds error for negative index")
	}
}

func TestBitmapFirstFree(t *testing.T) {
	bm := NewBitmap(8)
	_ = bm.Set(0)
	_ = bm.Set(1)
	_ = bm.Set(2)
	if got := bm.FirstFree(0); got != 3 {
		t.Fatalf("FirstFree(0) = %d, want 3", got)
	}
	for i := 0; i < 8; i++ {
		_ = bm.Set(i)
	}
	if got := bm.FirstFree(0); got != -1 {
		t.Fatalf("FirstFree(0) on a full bitmap = %d, want -1", got)
	}
}

func TestBitmapFindNUnsetBits(t *testing.T) {
	bm := NewBitmap(16)
	_ = bm.Set(2)
	_ = bm.Set(3)
	// free runs: [0,1] (len 2), [4..15] (len 12)
	if got := bm.FindNUnsetBits(3, 0); got != 4 {
		t.Fatalf("FindNUnsetBits(3, 0) = %d, want 4 (first run long enough)", got)
	}
	if got := bm.FindNUnsetBits(2, 0); got != 0 {
		t.Fatalf("FindNUnsetBits(2, 0) = %d, want 0", got)
	}
	if got := bm.FindNUnsetBits(20, 0); got != -1 {
		t.Fatalf("FindNUnsetBits(20, 0) = %d, want -1 (no run that long)", got)
	}
}

func TestBitmapCountFree(t *testing.T) {
	bm := NewBitmap(10)
	if got := bm.CountFree(); got != 10 {
		t.Fatalf("CountFree() = %d, want 10", got)
	}
	_ = bm.Set(0)
	_ = bm.Set(9)
	if got := bm.CountFree(); got != 8 {
		t.Fatalf("CountFree() = %d, want 8", got)
	}
}

func TestBitmapFromBytesSharesBackingStore(t *testing.T) {
	raw := make([]byte, 2)
	bm := BitmapFromBytes(raw)
	if err := bm.Set(0); err != nil {
		t.Fatal(err)
	}
	if raw[0] != 1 {
		t.Fatalf("expected BitmapFromBytes to alias its argument, raw[0] = %d", raw[0])
	}
}

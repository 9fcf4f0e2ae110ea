package ext2

import "testing"

func TestU32NarrowsInRange(t *testing.T) {
	if got := u32(42); got != 42 {
		t.Fatalf("u32(42) = %d, want 42", got)
	}
}

func TestU32PanicsOnOverflow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected u32 to panic on a value that does not fit in 32 bits")
		}
	}()
	u32(1 << 40)
}

func TestU16PanicsOnOverflow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected u16 to panic on a value that does not fit in 16 bits")
		}
	}()
	u16(1 << 20)
}

func TestCheckedAdd32(t *testing.T) {
	sum, err := checkedAdd32(10, 20)
	if err != nil || sum != 30 {
		t.Fatalf("checkedAdd32(10, 20) = (%d, %v), want (30, nil)", sum, err)
	}
	_, err = checkedAdd32(0xFFFFFFFF, 1)
	if err == nil {
		t.Fatal("expected overflow error")
	}
}

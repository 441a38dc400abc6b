package oracle

import "testing"

func TestPadAddress(t *testing.T) {
	got := padAddress("0xa78d8321B20c4Ef90eCd72f2588AA985A4BDb684")
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d: %s", len(got), got)
	}
	want := "000000000000000000000000a78d8321b20c4ef90ecd72f2588aa985a4bdb684"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

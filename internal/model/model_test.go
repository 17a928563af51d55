package model

import "testing"

func TestBBoxOverlapArea(t *testing.T) {
	a := BBox{X0: 0, Y0: 0, X1: 10, Y1: 10}
	b := BBox{X0: 5, Y0: 5, X1: 15, Y1: 15}
	area, ok := a.OverlapArea(b)
	if !ok {
		t.Fatal("expected overlap")
	}
	if area != 25 {
		t.Errorf("area = %v, want 25", area)
	}
}

func TestBBoxOverlapArea_NoOverlap(t *testing.T) {
	a := BBox{X0: 0, Y0: 0, X1: 10, Y1: 10}
	b := BBox{X0: 20, Y0: 20, X1: 30, Y1: 30}
	if _, ok := a.OverlapArea(b); ok {
		t.Error("expected no overlap")
	}
}

func TestBBoxDimensions(t *testing.T) {
	b := BBox{X0: 1, Y0: 2, X1: 5, Y1: 9}
	if b.Width() != 4 {
		t.Errorf("width = %v, want 4", b.Width())
	}
	if b.Height() != 7 {
		t.Errorf("height = %v, want 7", b.Height())
	}
	if b.Area() != 28 {
		t.Errorf("area = %v, want 28", b.Area())
	}
}

func TestMnemonic_KnownAndExtendedTypes(t *testing.T) {
	if got := PIIEmail.Mnemonic(); got != "EMAIL" {
		t.Errorf("Mnemonic(EMAIL) = %q, want EMAIL", got)
	}
	if got := PIILocation.Mnemonic(); got != "LOC" {
		t.Errorf("Mnemonic(LOCATION) = %q, want LOC", got)
	}
	ext := PIIType("SECRET")
	if got := ext.Mnemonic(); got != "SECRET" {
		t.Errorf("Mnemonic(extended) = %q, want SECRET", got)
	}
}

func TestPageDataRect(t *testing.T) {
	p := PageData{Width: 612, Height: 792}
	r := p.Rect()
	if r.X1 != 612 || r.Y1 != 792 {
		t.Errorf("Rect() = %+v, want (0,0,612,792)", r)
	}
}

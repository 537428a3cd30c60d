package model

import "testing"

func TestGeometry(t *testing.T) {
	tests := []struct {
		g      Geometry
		stride int
		size   int
		valid  bool
	}{
		{Panel4in2B, 50, 15000, true},
		{Geometry{Width: 9, Height: 2}, 2, 4, true},
		{Geometry{Width: 0, Height: 300}, 0, 0, false},
	}
	for _, tt := range tests {
		if got := tt.g.Stride(); got != tt.stride {
			t.Errorf("%+v.Stride() = %d, want %d", tt.g, got, tt.stride)
		}
		if got := tt.g.PlaneSize(); got != tt.size {
			t.Errorf("%+v.PlaneSize() = %d, want %d", tt.g, got, tt.size)
		}
		if got := tt.g.Valid(); got != tt.valid {
			t.Errorf("%+v.Valid() = %v, want %v", tt.g, got, tt.valid)
		}
	}
}

func TestNewFrameIsBlank(t *testing.T) {
	f := NewFrame(Panel4in2B)
	for name, p := range map[string]FrameBuffer{"black": f.Black, "red": f.Red} {
		if len(p) != 15000 {
			t.Fatalf("%s plane is %d bytes", name, len(p))
		}
		for i, b := range p {
			if b != 0xFF {
				t.Fatalf("%s[%d] = %#02x, want 0xff", name, i, b)
			}
		}
	}
}

func TestBitAt(t *testing.T) {
	g := Geometry{Width: 12, Height: 2}
	tests := []struct {
		x, y  int
		index int
		mask  byte
	}{
		{0, 0, 0, 0x80},
		{7, 0, 0, 0x01},
		{8, 0, 1, 0x80},
		{11, 0, 1, 0x10},
		{0, 1, 2, 0x80},
		{11, 1, 3, 0x10},
	}
	for _, tt := range tests {
		i, mask := g.BitAt(tt.x, tt.y)
		if i != tt.index || mask != tt.mask {
			t.Errorf("BitAt(%d, %d) = %d, %#02x; want %d, %#02x", tt.x, tt.y, i, mask, tt.index, tt.mask)
		}
	}
}

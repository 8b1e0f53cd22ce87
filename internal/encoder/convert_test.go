package encoder

import "testing"

func TestBGRAToI420SolidColors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		b, g, r byte
		y, u, v byte
	}{
		{"black", 0, 0, 0, 16, 128, 128},
		{"white", 255, 255, 255, 235, 128, 128},
		{"red", 0, 0, 255, 82, 90, 240},
		{"blue", 255, 0, 0, 41, 240, 110},
	}

	const width, height = 4, 4
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bgra := make([]byte, width*height*4)
			for i := 0; i < width*height; i++ {
				bgra[i*4] = tt.b
				bgra[i*4+1] = tt.g
				bgra[i*4+2] = tt.r
				bgra[i*4+3] = 0xFF
			}

			y := make([]byte, width*height)
			u := make([]byte, width*height/4)
			v := make([]byte, width*height/4)
			BGRAToI420(bgra, width, height, width*4, y, u, v)

			for i, got := range y {
				if got != tt.y {
					t.Fatalf("y[%d] = %d, want %d", i, got, tt.y)
				}
			}
			for i := range u {
				if u[i] != tt.u || v[i] != tt.v {
					t.Fatalf("uv[%d] = (%d,%d), want (%d,%d)", i, u[i], v[i], tt.u, tt.v)
				}
			}
		})
	}
}

func TestBGRAToI420RespectsStride(t *testing.T) {
	t.Parallel()
	const width, height, stride = 2, 2, 12
	bgra := make([]byte, stride*height)
	for i := range bgra {
		bgra[i] = 0xFF // row tails poisoned white
	}
	// Black pixels in the real columns.
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			idx := row*stride + col*4
			bgra[idx], bgra[idx+1], bgra[idx+2] = 0, 0, 0
		}
	}

	y := make([]byte, width*height)
	u := make([]byte, 1)
	v := make([]byte, 1)
	BGRAToI420(bgra, width, height, stride, y, u, v)

	for i, got := range y {
		if got != 16 {
			t.Errorf("y[%d] = %d, want 16 (row tail leaked into conversion)", i, got)
		}
	}
}

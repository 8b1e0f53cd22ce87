package encoder

// BGRAToI420 converts packed BGRA pixels to planar I420 using BT.601
// coefficients, with chroma sampled from the top-left pixel of each 2x2
// block. Width and height must be even; y must hold width*height bytes
// and u, v a quarter of that each.
func BGRAToI420(bgra []byte, width, height, stride int, y, u, v []byte) {
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			idx := row*stride + col*4
			b := int32(bgra[idx])
			g := int32(bgra[idx+1])
			r := int32(bgra[idx+2])

			yv := ((66*r + 129*g + 25*b + 128) >> 8) + 16
			y[row*width+col] = clampByte(yv)

			if row%2 == 0 && col%2 == 0 {
				uv := ((-38*r - 74*g + 112*b + 128) >> 8) + 128
				vv := ((112*r - 94*g - 18*b + 128) >> 8) + 128
				ci := (row/2)*(width/2) + col/2
				u[ci] = clampByte(uv)
				v[ci] = clampByte(vv)
			}
		}
	}
}

func clampByte(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

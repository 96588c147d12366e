package preprocess

import (
	"image"
	"image/color"
)

// BGR is an interleaved 8-bit blue, green, red pixel buffer with the origin
// at (0,0).
type BGR struct {
	Pix    []uint8
	Width  int
	Height int
}

// ToBGR reorders the decoder's RGB(A) pixels into BGR. Alpha is discarded
// and color values are taken non-premultiplied.
func ToBGR(img image.Image) *BGR {
	b := img.Bounds()
	out := &BGR{
		Pix:    make([]uint8, 3*b.Dx()*b.Dy()),
		Width:  b.Dx(),
		Height: b.Dy(),
	}

	i := 0
	switch src := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				out.Pix[i+0] = row[4*x+2]
				out.Pix[i+1] = row[4*x+1]
				out.Pix[i+2] = row[4*x+0]
				i += 3
			}
		}
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				p := row[4*x : 4*x+4]
				if p[3] == 0xff {
					out.Pix[i+0], out.Pix[i+1], out.Pix[i+2] = p[2], p[1], p[0]
				} else {
					c := color.NRGBAModel.Convert(color.RGBA{p[0], p[1], p[2], p[3]}).(color.NRGBA)
					out.Pix[i+0], out.Pix[i+1], out.Pix[i+2] = c.B, c.G, c.R
				}
				i += 3
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				v := row[x]
				out.Pix[i+0], out.Pix[i+1], out.Pix[i+2] = v, v, v
				i += 3
			}
		}
	case *image.YCbCr:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi, ci := src.YOffset(x, y), src.COffset(x, y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				out.Pix[i+0], out.Pix[i+1], out.Pix[i+2] = bl, g, r
				i += 3
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out.Pix[i+0] = c.B
				out.Pix[i+1] = c.G
				out.Pix[i+2] = c.R
				i += 3
			}
		}
	}
	return out
}

// Luminance weights in 14-bit fixed point (0.299, 0.587, 0.114).
const (
	grayShift = 14
	grayR     = 4899
	grayG     = 9617
	grayB     = 1868
	grayRound = 1 << (grayShift - 1)
)

// Gray converts the buffer to single-channel luminance.
func (p *BGR) Gray() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	for i, j := 0, 0; j < len(out.Pix); i, j = i+3, j+1 {
		b, g, r := uint32(p.Pix[i]), uint32(p.Pix[i+1]), uint32(p.Pix[i+2])
		out.Pix[j] = uint8((b*grayB + g*grayG + r*grayR + grayRound) >> grayShift)
	}
	return out
}

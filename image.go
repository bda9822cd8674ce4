package dav1d

import (
	"encoding/binary"
	"fmt"
	"image"
)

// Image copies the picture into an image.Image: *image.Gray for
// PixelLayoutI400, *image.YCbCr otherwise. Samples deeper than 8 bits are
// shifted down. No range or matrix conversion is done.
func (p *Picture) Image() (image.Image, error) {
	w, h := p.Width(), p.Height()
	rect := image.Rect(0, 0, w, h)
	shift := p.BitDepth() - 8
	if shift < 0 {
		return nil, fmt.Errorf("image: unsupported bit depth %d", p.BitDepth())
	}

	y := p.Plane(PlaneY)
	defer y.Release()

	if p.PixelLayout() == PixelLayoutI400 {
		img := image.NewGray(rect)
		copyPlane(img.Pix, img.Stride, y.Data(), y.Stride(), w, h, shift)
		return img, nil
	}

	var ratio image.YCbCrSubsampleRatio
	switch p.PixelLayout() {
	case PixelLayoutI420:
		ratio = image.YCbCrSubsampleRatio420
	case PixelLayoutI422:
		ratio = image.YCbCrSubsampleRatio422
	case PixelLayoutI444:
		ratio = image.YCbCrSubsampleRatio444
	default:
		return nil, fmt.Errorf("image: unsupported layout %s", p.PixelLayout())
	}
	img := image.NewYCbCr(rect, ratio)
	copyPlane(img.Y, img.YStride, y.Data(), y.Stride(), w, h, shift)

	cw := img.CStride
	ch := len(img.Cb) / img.CStride
	u, v := p.Plane(PlaneU), p.Plane(PlaneV)
	defer u.Release()
	defer v.Release()
	copyPlane(img.Cb, img.CStride, u.Data(), u.Stride(), cw, ch, shift)
	copyPlane(img.Cr, img.CStride, v.Data(), v.Stride(), cw, ch, shift)
	return img, nil
}

// copyPlane copies a w×h block of samples into 8-bit dst.
func copyPlane(dst []byte, dstStride int, src []byte, srcStride, w, h, shift int) {
	for row := 0; row < h; row++ {
		d := dst[row*dstStride : row*dstStride+w]
		s := src[row*srcStride:]
		if shift == 0 {
			copy(d, s[:w])
			continue
		}
		for x := range d {
			d[x] = byte(binary.NativeEndian.Uint16(s[2*x:]) >> shift)
		}
	}
}

package dav1d

import (
	"errors"
	"fmt"
	"testing"
	"unsafe"
)

func TestAlignedGeometry(t *testing.T) {
	tests := []struct {
		p    PictureParameters
		want planeGeometry
	}{
		{
			PictureParameters{Width: 320, Height: 240, Layout: PixelLayoutI420, BitDepth: 8},
			planeGeometry{stride: [2]int{384, 256}, rows: [2]int{256, 128}},
		},
		{
			PictureParameters{Width: 320, Height: 240, Layout: PixelLayoutI420, BitDepth: 10},
			planeGeometry{stride: [2]int{768, 512}, rows: [2]int{256, 128}},
		},
		{
			PictureParameters{Width: 1, Height: 1, Layout: PixelLayoutI422, BitDepth: 8},
			planeGeometry{stride: [2]int{128, 128}, rows: [2]int{128, 128}},
		},
		{
			PictureParameters{Width: 129, Height: 64, Layout: PixelLayoutI444, BitDepth: 12},
			planeGeometry{stride: [2]int{512, 512}, rows: [2]int{128, 128}},
		},
		{
			// 1024-byte strides get bumped by one alignment unit.
			PictureParameters{Width: 1024, Height: 16, Layout: PixelLayoutI444, BitDepth: 8},
			planeGeometry{stride: [2]int{1088, 1088}, rows: [2]int{128, 128}},
		},
		{
			PictureParameters{Width: 640, Height: 480, Layout: PixelLayoutI400, BitDepth: 8},
			planeGeometry{stride: [2]int{640, 0}, rows: [2]int{512, 0}},
		},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("%dx%d_%s_%d", tt.p.Width, tt.p.Height, tt.p.Layout, tt.p.BitDepth)
		t.Run(name, func(t *testing.T) {
			if got := alignedGeometry(tt.p); got != tt.want {
				t.Errorf("alignedGeometry() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAlignedAllocatorLayout(t *testing.T) {
	sizes := []int{1, 127, 128, 129, 320, 321}
	layouts := []PixelLayout{PixelLayoutI400, PixelLayoutI420, PixelLayoutI422, PixelLayoutI444}

	a := NewAlignedAllocator()
	for _, w := range sizes {
		for _, h := range sizes {
			for _, layout := range layouts {
				for _, bpc := range []int{8, 10} {
					p := PictureParameters{Width: w, Height: h, Layout: layout, BitDepth: bpc}
					checkAllocation(t, a, p)
				}
			}
		}
	}
	if n := a.Outstanding(); n != 0 {
		t.Errorf("Outstanding() = %d after releasing everything", n)
	}
}

func checkAllocation(t *testing.T, a *AlignedAllocator, p PictureParameters) {
	t.Helper()
	alloc, err := a.AllocPicture(p)
	if err != nil {
		t.Fatalf("AllocPicture(%+v) failed: %v", p, err)
	}
	defer a.ReleasePicture(alloc)

	bps := 1
	if p.BitDepth > 8 {
		bps = 2
	}
	cw, ch := p.Width, p.Height
	switch p.Layout {
	case PixelLayoutI420:
		cw, ch = (p.Width+1)/2, (p.Height+1)/2
	case PixelLayoutI422:
		cw = (p.Width + 1) / 2
	}

	for i, d := range alloc.Data {
		if uintptr(d)%PictureAlignment != 0 {
			t.Errorf("%+v: plane %d not aligned: %p", p, i, d)
		}
	}
	for i, s := range alloc.Stride {
		if s%PictureAlignment != 0 {
			t.Errorf("%+v: stride %d = %d not a multiple of %d", p, i, s, PictureAlignment)
		}
	}
	if alloc.Stride[0] < p.Width*bps {
		t.Errorf("%+v: luma stride %d too small", p, alloc.Stride[0])
	}

	id := alloc.AllocatorData.(uint64)
	a.mu.Lock()
	buf := a.live[id].buf
	a.mu.Unlock()
	start := uintptr(unsafe.Pointer(&buf[0]))
	end := start + uintptr(len(buf))

	fits := func(plane int, stride, rows int) {
		base := uintptr(alloc.Data[plane])
		if base < start || base+uintptr(stride*rows)+PictureAlignment > end {
			t.Errorf("%+v: plane %d (%d×%d) overruns its buffer", p, plane, stride, rows)
		}
	}
	fits(0, alloc.Stride[0], p.Height)

	if p.Layout == PixelLayoutI400 {
		if alloc.Data[1] != nil || alloc.Data[2] != nil || alloc.Stride[1] != 0 {
			t.Errorf("%+v: monochrome allocation has chroma planes", p)
		}
		return
	}
	if alloc.Stride[1] < cw*bps {
		t.Errorf("%+v: chroma stride %d too small for %d samples", p, alloc.Stride[1], cw)
	}
	fits(1, alloc.Stride[1], ch)
	fits(2, alloc.Stride[1], ch)
	if uintptr(alloc.Data[1]) < uintptr(alloc.Data[0])+uintptr(alloc.Stride[0]*p.Height) {
		t.Errorf("%+v: U plane overlaps luma", p)
	}
	if uintptr(alloc.Data[2]) < uintptr(alloc.Data[1])+uintptr(alloc.Stride[1]*ch) {
		t.Errorf("%+v: V plane overlaps U", p)
	}
}

func TestAlignedAllocatorRejectsEmpty(t *testing.T) {
	a := NewAlignedAllocator()
	for _, p := range []PictureParameters{
		{Width: 0, Height: 10, Layout: PixelLayoutI420, BitDepth: 8},
		{Width: 10, Height: -1, Layout: PixelLayoutI420, BitDepth: 8},
	} {
		if _, err := a.AllocPicture(p); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("AllocPicture(%+v) = %v, want ErrInvalidArgument", p, err)
		}
	}
	if a.Outstanding() != 0 {
		t.Error("failed allocations were recorded")
	}
}

func TestAlignedAllocatorReleaseUnknown(t *testing.T) {
	a := NewAlignedAllocator()
	alloc, err := a.AllocPicture(PictureParameters{Width: 16, Height: 16, Layout: PixelLayoutI420, BitDepth: 8})
	if err != nil {
		t.Fatalf("AllocPicture failed: %v", err)
	}
	a.ReleasePicture(PictureAllocation{AllocatorData: "foreign"})
	a.ReleasePicture(PictureAllocation{AllocatorData: uint64(999)})
	if a.Outstanding() != 1 {
		t.Errorf("Outstanding() = %d, want 1", a.Outstanding())
	}
	a.ReleasePicture(alloc)
	a.ReleasePicture(alloc)
	if a.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", a.Outstanding())
	}
}

// Package dav1d decodes AV1 video with libdav1d, loaded at runtime
// through purego (no cgo required).
//
// Key pieces include:
//   - Settings: decoder configuration seeded from dav1d_default_settings
//   - Decoder: the send/receive state machine with backpressure
//   - Picture and Plane: reference counted decoded frames and zero-copy
//     plane views, with colorimetry and HDR metadata
//   - PictureAllocator: caller-owned picture memory (AlignedAllocator is
//     a ready implementation)
//   - DecodeStream: the canonical decode loop over a demux.Reader
//
// # Decode loop
//
//	for each packet:
//	    err := dec.SendData(pkt)
//	    for dav1d.IsAgain(err) {
//	        drain dec.GetPicture() until ErrAgain
//	        err = dec.SendPendingData()
//	    }
//	    drain dec.GetPicture() until ErrAgain
//	at end of stream: drain dec.GetPicture() until ErrAgain
//
// # Native Library
//
// libdav1d 1.0 or newer is required. It is looked up in DAV1D_LIB_PATH
// (a file or a directory), next to the executable, in build/ under the
// module root and in the usual system locations. Available reports
// whether loading succeeded; without the library NewDecoder fails with
// ErrLibraryNotFound while NewSettings still returns the documented
// defaults.
//
// Sub-packages:
//   - demux: IVF, fragmented MP4 and RTP sources of AV1 temporal units
//   - cmd/dav1dinfo: command line inspector and Y4M dumper
package dav1d

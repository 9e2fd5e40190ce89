// Package icon renders the tray and notification icons at startup.
// Windows wants .ico data; everything else gets the bare PNG.
package icon

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"runtime"
)

const size = 32

var (
	// Logo is shown while no recording is running
	Logo = render(color.RGBA{R: 0x25, G: 0x63, B: 0xeb, A: 0xff})

	// Recording is shown while a capture process is running
	Recording = render(color.RGBA{R: 0xdc, G: 0x26, B: 0x26, A: 0xff})
)

func render(fill color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	center := float64(size-1) / 2
	outer := float64(size)/2 - 1
	inner := outer - 3

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			d := dx*dx + dy*dy

			switch {
			case d <= inner*inner:
				img.SetRGBA(x, y, fill)
			case d <= outer*outer:
				img.SetRGBA(x, y, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}

	if runtime.GOOS != "windows" {
		return buf.Bytes()
	}

	return wrapICO(buf.Bytes())
}

// wrapICO builds a single-image ICO container around PNG data (supported since Vista)
func wrapICO(pngData []byte) []byte {
	const headerSize = 6 + 16

	var buf bytes.Buffer

	// ICONDIR
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // reserved
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // type: icon
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // image count

	// ICONDIRENTRY
	buf.WriteByte(size) // width
	buf.WriteByte(size) // height
	buf.WriteByte(0)    // palette
	buf.WriteByte(0)    // reserved

	binary.Write(&buf, binary.LittleEndian, uint16(1))  // color planes
	binary.Write(&buf, binary.LittleEndian, uint16(32)) // bits per pixel
	binary.Write(&buf, binary.LittleEndian, uint32(len(pngData)))
	binary.Write(&buf, binary.LittleEndian, uint32(headerSize))

	buf.Write(pngData)

	return buf.Bytes()
}

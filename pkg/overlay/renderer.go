// Copyright 2022 The klvsync Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package overlay

// StampRenderer stamps the overlay text into the top-left corner of
// the pixel buffer, one character per pixel. A stand-in for a real
// font rasterizer that keeps the output deterministic.
type StampRenderer struct{}

// Render implements Renderer.
func (StampRenderer) Render(text string, width, height int, pix []byte) {
	row := 4 * width
	if row > len(pix) {
		row = len(pix)
	}
	for i := 0; i < row; i++ {
		pix[i] = 0
	}
	for i := 0; i < len(text); i++ {
		offset := 4 * i
		if offset+3 >= row {
			break
		}
		pix[offset] = 0xff
		pix[offset+1] = text[i]
		pix[offset+2] = text[i]
		pix[offset+3] = text[i]
	}
}

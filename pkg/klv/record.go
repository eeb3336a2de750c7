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

// Package klv encodes and decodes KLV metadata records and
// synthesizes the per-frame record stream.
package klv

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

// KeyLength keys are 16-byte Universal Labels.
const KeyLength = 16

// KeyFrameCounter is the Universal Label of the synthesized
// per-frame counter record.
var KeyFrameCounter = [KeyLength]byte{
	0x06, 0x0E, 0x2B, 0x34, 0x01, 0x01, 0x01, 0x01,
	0x0E, 0x01, 0x01, 0x03, 0x01, 0x01, 0x00, 0x00,
}

// ErrShortRecord record is too short.
var ErrShortRecord = errors.New("record is too short")

// ErrLengthTooLarge BER length is too large.
var ErrLengthTooLarge = errors.New("record length is too large")

// ErrTrailingBytes record has trailing bytes.
var ErrTrailingBytes = errors.New("trailing bytes after record")

// Record is a single KLV triplet. The presentation timestamp rides
// on the enclosing buffer.
type Record struct {
	Key   [KeyLength]byte
	Value []byte
}

// Marshal encodes the record as key, BER length, value.
func (r Record) Marshal() ([]byte, error) {
	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)

	if _, err := w.Write(r.Key[:]); err != nil {
		return nil, err
	}
	if err := writeBERLength(w, len(r.Value)); err != nil {
		return nil, err
	}
	if _, err := w.Write(r.Value); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a single record.
func (r *Record) Unmarshal(data []byte) error {
	if len(data) < KeyLength+1 {
		return fmt.Errorf("%w: %v bytes", ErrShortRecord, len(data))
	}

	br := bitio.NewReader(bytes.NewReader(data))

	if _, err := io.ReadFull(br, r.Key[:]); err != nil {
		return fmt.Errorf("read key: %w", err)
	}

	length, err := readBERLength(br)
	if err != nil {
		return err
	}
	if length > len(data) {
		return fmt.Errorf("%w: value %v bytes in %v byte record",
			ErrShortRecord, length, len(data))
	}

	value := make([]byte, length)
	if _, err := io.ReadFull(br, value); err != nil {
		return fmt.Errorf("read value: %w", ErrShortRecord)
	}
	r.Value = value

	var scratch [1]byte
	if _, err := br.Read(scratch[:]); !errors.Is(err, io.EOF) {
		return ErrTrailingBytes
	}
	return nil
}

// A BER length fitting 7 bits is a single byte. Otherwise the
// first byte holds the byte count of the length that follows,
// big-endian.
func writeBERLength(w *bitio.Writer, length int) error {
	if length < 0x80 {
		return w.WriteBits(uint64(length), 8)
	}

	n := uint8(1)
	for l := length >> 8; l > 0; l >>= 8 {
		n++
	}

	if err := w.WriteBits(1, 1); err != nil {
		return err
	}
	if err := w.WriteBits(uint64(n), 7); err != nil {
		return err
	}
	return w.WriteBits(uint64(length), 8*n)
}

func readBERLength(br *bitio.Reader) (int, error) {
	long, err := br.ReadBool()
	if err != nil {
		return 0, err
	}
	n, err := br.ReadBits(7)
	if err != nil {
		return 0, err
	}
	if !long {
		return int(n), nil
	}

	if n == 0 || n > 4 {
		return 0, fmt.Errorf("%w: %v length bytes", ErrLengthTooLarge, n)
	}
	length, err := br.ReadBits(uint8(8 * n))
	if err != nil {
		return 0, err
	}
	return int(length), nil
}

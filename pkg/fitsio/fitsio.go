// Package fitsio reads and writes single-HDU FITS images carrying
// 32-bit IEEE float data, the interchange format for rendered stamps.
// Only the subset of the standard the pipeline needs is implemented:
// two axes, BITPIX=-32, no extensions.
package fitsio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

const (
	blockSize     = 2880
	cardSize      = 80
	cardsPerBlock = blockSize / cardSize
)

// Encode writes g as a FITS image. Pixels are stored row by row from
// the bottom of the stamp, as big-endian float32, so values survive a
// round trip at float32 precision.
func Encode(w io.Writer, g *grid.Grid) error {
	if g == nil || g.Dx() < 1 || g.Dy() < 1 {
		return fmt.Errorf("cannot encode an empty image")
	}

	var hdr bytes.Buffer
	card := func(key, value, comment string) {
		s := fmt.Sprintf("%-8s= %20s", key, value)
		if comment != "" {
			s += " / " + comment
		}
		hdr.WriteString(s)
		hdr.WriteString(strings.Repeat(" ", cardSize-len(s)))
	}
	card("SIMPLE", "T", "conforms to FITS standard")
	card("BITPIX", "-32", "32-bit IEEE floats")
	card("NAXIS", "2", "")
	card("NAXIS1", strconv.Itoa(g.Dx()), "stamp width, pixels")
	card("NAXIS2", strconv.Itoa(g.Dy()), "stamp height, pixels")
	hdr.WriteString(fmt.Sprintf("%-*s", cardSize, "END"))
	// Headers pad with spaces, data units with zeros.
	padBlock(&hdr, ' ')
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}

	var data bytes.Buffer
	data.Grow(4 * len(g.Values()))
	var scratch [4]byte
	for _, v := range g.Values() {
		binary.BigEndian.PutUint32(scratch[:], math.Float32bits(float32(v)))
		data.Write(scratch[:])
	}
	padBlock(&data, 0)
	_, err := w.Write(data.Bytes())
	return err
}

// padBlock pads b with fill bytes to the next 2880-byte boundary.
func padBlock(b *bytes.Buffer, fill byte) {
	if rem := b.Len() % blockSize; rem != 0 {
		b.Write(bytes.Repeat([]byte{fill}, blockSize-rem))
	}
}

// Decode reads a FITS image produced by Encode, or any single-HDU
// two-axis float32 image. Cards it does not recognize are skipped.
func Decode(r io.Reader) (*grid.Grid, error) {
	keys := map[string]string{}
	block := make([]byte, blockSize)
	for ended := false; !ended; {
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, fmt.Errorf("reading FITS header: %v", err)
		}
		for c := 0; c < cardsPerBlock; c++ {
			card := string(block[c*cardSize : (c+1)*cardSize])
			key := strings.TrimSpace(card[:8])
			if key == "END" {
				ended = true
				break
			}
			if key == "" || key == "COMMENT" || key == "HISTORY" || card[8] != '=' {
				continue
			}
			val := card[10:]
			if i := strings.IndexByte(val, '/'); i >= 0 {
				val = val[:i]
			}
			keys[key] = strings.TrimSpace(val)
		}
	}

	if keys["SIMPLE"] != "T" {
		return nil, fmt.Errorf("not a FITS image (SIMPLE=%q)", keys["SIMPLE"])
	}
	if keys["BITPIX"] != "-32" {
		return nil, fmt.Errorf("unsupported BITPIX %q, only -32 is handled", keys["BITPIX"])
	}
	if keys["NAXIS"] != "2" {
		return nil, fmt.Errorf("unsupported NAXIS %q, want 2", keys["NAXIS"])
	}
	w, err := strconv.Atoi(keys["NAXIS1"])
	if err != nil || w < 1 {
		return nil, fmt.Errorf("bad NAXIS1 %q", keys["NAXIS1"])
	}
	h, err := strconv.Atoi(keys["NAXIS2"])
	if err != nil || h < 1 {
		return nil, fmt.Errorf("bad NAXIS2 %q", keys["NAXIS2"])
	}

	data := make([]byte, 4*w*h)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading %dx%d FITS data: %v", w, h, err)
	}
	g := grid.New(w, h)
	vals := g.Values()
	for i := range vals {
		vals[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(data[4*i:])))
	}
	return g, nil
}

// Write encodes g into the named file.
func Write(path string, g *grid.Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create '%s': %v", path, err)
	}
	if err := Encode(f, g); err != nil {
		f.Close()
		return fmt.Errorf("write '%s': %v", path, err)
	}
	return f.Close()
}

// Read decodes the named FITS file.
func Read(path string) (*grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open '%s': %v", path, err)
	}
	defer f.Close()
	g, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read '%s': %v", path, err)
	}
	return g, nil
}

package fixup

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Faultbox/edgefixup/pkg/texel"
)

// Snapshot encoding errors.
var (
	ErrInvalidSnapshotMagic       = errors.New("invalid snapshot magic: expected 'EDGS'")
	ErrUnsupportedSnapshotVersion = errors.New("unsupported snapshot version")
	ErrTruncatedSnapshot          = errors.New("truncated snapshot data")
)

const (
	snapshotMagic   = "EDGS"
	snapshotVersion = 1
)

// MarshalBinary encodes the snapshot as
//
//	magic "EDGS", version u8, edge length u32, mip count u8,
//	8 captured hashes u64, 8 baseline hashes u64,
//	then per direction, per mip: texel count u32 and the texel bytes.
//
// Integers are little endian.
func (s *EdgeSnapshot) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	buf.WriteByte(snapshotVersion)

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(s.EdgeLength))
	buf.Write(scratch[:4])
	buf.WriteByte(uint8(s.MipCount))

	for _, h := range s.CapturedHash {
		binary.LittleEndian.PutUint64(scratch[:], h)
		buf.Write(scratch[:])
	}
	for _, h := range s.BaselineHash {
		binary.LittleEndian.PutUint64(scratch[:], h)
		buf.Write(scratch[:])
	}

	for _, dir := range Directions {
		for mip := range s.MipCount {
			row := s.Row(dir, mip)
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(row)))
			buf.Write(scratch[:4])
			buf.Write(texel.Encode(row))
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data written by MarshalBinary. Every row must have
// the length its direction and mip imply.
func (s *EdgeSnapshot) UnmarshalBinary(data []byte) error {
	if len(data) < 10 {
		return ErrTruncatedSnapshot
	}
	if string(data[0:4]) != snapshotMagic {
		return ErrInvalidSnapshotMagic
	}
	if data[4] != snapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedSnapshotVersion, data[4])
	}

	r := bytes.NewReader(data[5:])

	var edgeLength uint32
	var mipCount uint8
	if err := binary.Read(r, binary.LittleEndian, &edgeLength); err != nil {
		return fmt.Errorf("%w: reading edge length", ErrTruncatedSnapshot)
	}
	if err := binary.Read(r, binary.LittleEndian, &mipCount); err != nil {
		return fmt.Errorf("%w: reading mip count", ErrTruncatedSnapshot)
	}
	if edgeLength < 2 || mipCount < 1 {
		return fmt.Errorf("%w: edge length %d, %d mips", ErrTruncatedSnapshot, edgeLength, mipCount)
	}

	out := EdgeSnapshot{
		EdgeLength: int(edgeLength),
		MipCount:   int(mipCount),
	}
	if err := binary.Read(r, binary.LittleEndian, &out.CapturedHash); err != nil {
		return fmt.Errorf("%w: reading captured hashes", ErrTruncatedSnapshot)
	}
	if err := binary.Read(r, binary.LittleEndian, &out.BaselineHash); err != nil {
		return fmt.Errorf("%w: reading baseline hashes", ErrTruncatedSnapshot)
	}

	for _, dir := range Directions {
		out.Data[dir] = make([][]texel.Texel, out.MipCount)
		for mip := range out.MipCount {
			var count uint32
			if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
				return fmt.Errorf("%w: reading %s mip %d length", ErrTruncatedSnapshot, dir, mip)
			}
			if want := RowLength(dir, out.EdgeLength, mip); int(count) != want {
				return fmt.Errorf("%w: %s mip %d has %d samples, want %d", ErrTruncatedSnapshot, dir, mip, count, want)
			}
			if int64(count)*texel.Size > int64(r.Len()) {
				return fmt.Errorf("%w: %s mip %d", ErrTruncatedSnapshot, dir, mip)
			}
			raw := make([]byte, int(count)*texel.Size)
			if _, err := io.ReadFull(r, raw); err != nil {
				return fmt.Errorf("%w: %s mip %d", ErrTruncatedSnapshot, dir, mip)
			}
			row, err := texel.Decode(raw)
			if err != nil {
				return err
			}
			out.Data[dir][mip] = row
		}
	}

	*s = out
	return nil
}

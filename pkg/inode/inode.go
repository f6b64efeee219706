// Package inode maps Docker object identifiers to FUSE inode numbers.
//
// The mapping is a pure function of the identifier: the first eight
// bytes are packed big-endian into a uint64. No table is kept, so two
// identifiers sharing an eight-byte prefix alias to the same inode.
package inode

// Width is the number of identifier bytes packed into an inode.
const Width = 8

// Encode packs the first Width bytes of id into an inode number. The
// first byte lands in the most significant position; shorter ids leave
// the low-order bytes zero.
func Encode(id string) uint64 {
	var ino uint64
	n := len(id)
	if n > Width {
		n = Width
	}
	for i := 0; i < n; i++ {
		ino = ino<<8 | uint64(id[i])
	}
	return ino << (8 * uint(Width-n))
}

// Decode unpacks an inode number back into the identifier prefix it
// was built from, stopping at the first zero byte. It is only an
// inverse for ids of at most Width bytes without embedded NULs.
func Decode(ino uint64) string {
	buf := make([]byte, 0, Width)
	for i := Width - 1; i >= 0; i-- {
		c := byte(ino >> (8 * uint(i)))
		if c == 0 {
			break
		}
		buf = append(buf, c)
	}
	return string(buf)
}

// Collides reports whether two distinct identifiers map to the same
// inode.
func Collides(a, b string) bool {
	return a != b && Encode(a) == Encode(b)
}

// ReservedMax is the highest inode number reserved for the fixed
// top-level directories. Identifiers never map into this range unless
// they start with seven NUL bytes.
const ReservedMax uint64 = 5

// Reserved reports whether ino falls in the fixed directory range.
func Reserved(ino uint64) bool {
	return ino <= ReservedMax
}

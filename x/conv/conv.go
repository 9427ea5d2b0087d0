// Package conv appends numbers to byte slices without fmt or strconv, for
// MCU log lines.
package conv

const hexd = "0123456789ABCDEF"

// AppendUint appends the base-10 representation of n.
func AppendUint(dst []byte, n uint64) []byte {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(dst, buf[i:]...)
}

// AppendInt appends the base-10 representation of n.
func AppendInt(dst []byte, n int64) []byte {
	if n < 0 {
		dst = append(dst, '-')
		return AppendUint(dst, uint64(-n))
	}
	return AppendUint(dst, uint64(n))
}

// AppendHex8 appends two uppercase hex digits.
func AppendHex8(dst []byte, b byte) []byte {
	return append(dst, hexd[b>>4], hexd[b&0xF])
}

// AppendHex32 appends 8-digit uppercase hex, zero-padded, without 0x.
func AppendHex32(dst []byte, n uint32) []byte {
	for shift := 28; shift >= 0; shift -= 4 {
		dst = append(dst, hexd[(n>>uint(shift))&0xF])
	}
	return dst
}

// AppendHexBytes appends p as contiguous uppercase hex.
func AppendHexBytes(dst []byte, p []byte) []byte {
	for _, b := range p {
		dst = AppendHex8(dst, b)
	}
	return dst
}

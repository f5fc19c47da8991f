package conv

const hexd = "0123456789abcdef"

// Hex8 formats b as "0x" plus two lower-case hex digits.
func Hex8(b byte) string {
	return string([]byte{'0', 'x', hexd[b>>4], hexd[b&0xF]})
}

// AppendHex8 appends two lower-case hex digits of b to dst, without 0x.
func AppendHex8(dst []byte, b byte) []byte {
	return append(dst, hexd[b>>4], hexd[b&0xF])
}

// HexBytes formats p as space-separated hex pairs, e.g. "a0 aa".
func HexBytes(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	out := make([]byte, 0, len(p)*3-1)
	for i, b := range p {
		if i > 0 {
			out = append(out, ' ')
		}
		out = AppendHex8(out, b)
	}
	return string(out)
}

package slip

// Encode wraps p in SLIP framing. A leading END flushes any line noise the
// receiver has accumulated, and END/ESC bytes in p are escaped.
func Encode(p []byte) []byte {
	return AppendEncoded(make([]byte, 0, len(p)+len(p)/8+2), p)
}

// AppendEncoded appends the SLIP framing of p to dst.
func AppendEncoded(dst, p []byte) []byte {
	dst = append(dst, End)
	for _, b := range p {
		switch b {
		case End:
			dst = append(dst, Esc, EscEnd)
		case Esc:
			dst = append(dst, Esc, EscEsc)
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, End)
}

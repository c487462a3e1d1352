package consumer

// nonFiniteTokens bare tokens some firmware emits for non-finite floats, longest first
var nonFiniteTokens = []string{"infinity", "nan", "inf"}

// sanitizeNonFinite rewrites bare NaN / Infinity / inf tokens (any case, optional sign)
// that appear outside string literals into JSON null so the payload can be decoded and
// the affected keys rejected individually. Text inside string literals is untouched.
func sanitizeNonFinite(payload []byte) []byte {
	var out []byte // allocated on first rewrite
	inString := false
	escaped := false
	last := 0

	for i := 0; i < len(payload); i++ {
		ch := payload[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			continue
		}

		if ch != '-' && ch != '+' && ch != 'n' && ch != 'N' && ch != 'i' && ch != 'I' {
			continue
		}
		if i > 0 && isWordByte(payload[i-1]) {
			continue
		}

		n := matchNonFinite(payload[i:])
		if n == 0 {
			continue
		}

		if out == nil {
			out = make([]byte, 0, len(payload))
		}
		out = append(out, payload[last:i]...)
		out = append(out, "null"...)
		i += n - 1
		last = i + 1
	}

	if out == nil {
		return payload
	}
	return append(out, payload[last:]...)
}

// matchNonFinite returns the length of the token at the start of b, 0 if none
func matchNonFinite(b []byte) int {
	sign := 0
	if len(b) > 0 && (b[0] == '-' || b[0] == '+') {
		sign = 1
	}
	for _, tok := range nonFiniteTokens {
		end := sign + len(tok)
		if len(b) < end || !equalFold(b[sign:end], tok) {
			continue
		}
		if end < len(b) && isWordByte(b[end]) {
			continue
		}
		return end
	}
	return 0
}

func equalFold(b []byte, lower string) bool {
	for i := 0; i < len(lower); i++ {
		c := b[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

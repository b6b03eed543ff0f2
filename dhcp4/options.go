package dhcp4

// Option is a single decoded tag/length/value entry (C2).
type Option struct {
	Code  byte
	Value []byte
}

// Options is an ordered list of option entries, scanned or built in a
// single linear pass — the original firmware's ACK handler re-scanned the
// options region once per octet of an unrelated outer loop; this codec
// reads (or writes) every option exactly once.
type Options []Option

// Get returns the value for tag, scanning opts once, and whether it was
// present.
func (o Options) Get(tag byte) ([]byte, bool) {
	for _, opt := range o {
		if opt.Code == tag {
			return opt.Value, true
		}
	}
	return nil, false
}

// Parse scans a DHCP options region (the bytes after the magic cookie) in
// a single linear pass: read tag, then length, then advance tag+len+2
// bytes. Stops at the sentinel (255) or when the buffer is exhausted.
// Pad bytes (0) between options are skipped without being attributed a
// length field, matching RFC 2132.
func Parse(b []byte) Options {
	var opts Options
	for i := 0; i < len(b); {
		tag := b[i]
		if tag == optionSentinel {
			break
		}
		if tag == optionPad {
			i++
			continue
		}
		if i+1 >= len(b) {
			break
		}
		length := int(b[i+1])
		start := i + 2
		end := start + length
		if end > len(b) {
			break
		}
		value := make([]byte, length)
		copy(value, b[start:end])
		opts = append(opts, Option{Code: tag, Value: value})
		i = end
	}
	return opts
}

// Encode appends opts (tag, length, value for each) followed by the
// sentinel (255) to buf, which must already hold the fixed BOOTP header
// (and have spare capacity for the options). It returns the full slice.
func Encode(buf []byte, opts Options) []byte {
	for _, opt := range opts {
		buf = append(buf, opt.Code, byte(len(opt.Value)))
		buf = append(buf, opt.Value...)
	}
	buf = append(buf, optionSentinel)
	return buf
}

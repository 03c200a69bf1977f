package core

// parserFSMState is the parser's outer state, spec.md §4.3.
type parserFSMState int

const (
	pInit parserFSMState = iota
	pCalcRemLen
	pReadRem
)

// parser is the incremental, byte-at-a-time MQTT frame decoder. It never
// blocks and never requires a complete packet to arrive in one feed()
// call: state survives across calls, so a connection can be fed one byte
// at a time and still dispatch every packet exactly once (spec.md §8
// invariant 5).
//
// Bodies that don't fit entirely within the rx buffer are discarded (with
// a warning) rather than torn the connection down — a deliberate
// partial-degradation policy for constrained receive buffers (spec.md
// §4.3 "Overflow policy").
type parser struct {
	state      parserFSMState
	hdrByte    byte
	remLen     int
	remLenMult int
	currPos    int

	rxBuf []byte

	dispatch func(hdrByte byte, body []byte)
	onWarn   func(format string, args ...any)
}

func newParser(rxLen int, dispatch func(hdrByte byte, body []byte), onWarn func(string, ...any)) *parser {
	return &parser{
		rxBuf:    make([]byte, rxLen),
		dispatch: dispatch,
		onWarn:   onWarn,
	}
}

// reset returns the parser to INIT, discarding any partially-read packet.
// Called on (re)connect and implicitly after every complete packet.
func (p *parser) reset() {
	p.state = pInit
	p.hdrByte = 0
	p.remLen = 0
	p.remLenMult = 0
	p.currPos = 0
}

// feed consumes an inbound byte fragment, dispatching every whole packet
// it completes. It never returns an error: malformed oversized bodies are
// discarded per the overflow policy, not a protocol-ending event.
func (p *parser) feed(frag []byte) {
	i := 0
	for i < len(frag) {
		switch p.state {
		case pInit:
			p.hdrByte = frag[i]
			i++
			p.remLen = 0
			p.remLenMult = 0
			p.currPos = 0
			p.state = pCalcRemLen

		case pCalcRemLen:
			b := frag[i]
			i++
			p.remLen |= int(b&0x7F) << (7 * p.remLenMult)
			p.remLenMult++
			if b&0x80 != 0 {
				// Varint continues; stay in pCalcRemLen.
				continue
			}

			if p.remLen == 0 {
				p.dispatch(p.hdrByte, nil)
				p.state = pInit
				continue
			}

			remaining := frag[i:]
			if len(remaining) >= p.remLen && p.remLen <= len(p.rxBuf) {
				// Zero-copy fast path: the whole body already sits in
				// this fragment and would fit rxBuf. Dispatch directly
				// off the caller's slice instead of copying into rxBuf.
				p.dispatch(p.hdrByte, remaining[:p.remLen])
				i += p.remLen
				p.state = pInit
				continue
			}

			p.state = pReadRem

		case pReadRem:
			b := frag[i]
			i++
			if p.currPos < len(p.rxBuf) {
				p.rxBuf[p.currPos] = b
			}
			p.currPos++
			if p.currPos == p.remLen {
				if p.currPos <= len(p.rxBuf) {
					p.dispatch(p.hdrByte, p.rxBuf[:p.remLen])
				} else if p.onWarn != nil {
					p.onWarn("mqttcore: discarding %d-byte packet (type %d), exceeds %d-byte receive buffer",
						p.remLen, p.hdrByte>>4, len(p.rxBuf))
				}
				p.state = pInit
			}
		}
	}
}

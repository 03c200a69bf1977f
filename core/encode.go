package core

import "encoding/binary"

// checkMemory returns the total number of bytes a packet with the given
// remaining length will occupy in the ring buffer (one fixed-header byte
// plus the varint-encoded remaining length plus the remaining length
// itself), or 0 if that total exceeds the buffer's current free space.
// Callers MUST call this before writing any part of a packet — partial
// writes are forbidden (spec.md §4.2).
func checkMemory(r *ringBuffer, remLen int) int {
	total := 1 + varintLen(remLen) + remLen
	if total > r.free() {
		return 0
	}
	return total
}

// writeFixedHeader writes the one-byte MQTT fixed header followed by the
// varint remaining length.
func writeFixedHeader(r *ringBuffer, pt packetType, dup bool, qos QoS, retain bool, remLen int) {
	var b byte = byte(pt) << 4
	if dup {
		b |= 1 << 3
	}
	b |= (byte(qos) & 0x03) << 1
	if retain {
		b |= 1
	}
	hdr := make([]byte, 0, 5)
	hdr = append(hdr, b)
	hdr = encodeVarint(hdr, remLen)
	r.write(hdr)
}

func writeU8(r *ringBuffer, v byte) {
	r.write([]byte{v})
}

func writeU16(r *ringBuffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	r.write(b[:])
}

// writeString writes a u16 length prefix followed by the raw bytes of s.
func writeString(r *ringBuffer, s string) {
	writeU16(r, uint16(len(s)))
	r.write([]byte(s))
}

func writeRaw(r *ringBuffer, p []byte) {
	r.write(p)
}

// encodeConnect serializes a CONNECT packet. Clean-session is always set
// per spec.md §4.5 on_connected; will/username/password flags follow
// info.
func encodeConnect(r *ringBuffer, info *ClientInfo) bool {
	const protocolName = "MQTT"
	const protocolLevel = 4

	var flags byte = 1 << 1 // clean session
	if info.Username != "" {
		flags |= 1 << 7
	}
	if info.Password != "" {
		flags |= 1 << 6
	}
	hasWill := info.WillTopic != ""
	if hasWill {
		flags |= 1 << 2
		flags |= (byte(info.WillQoS.clamp()) & 0x03) << 3
		if info.WillRetain {
			flags |= 1 << 5
		}
	}

	remLen := 2 + len(protocolName) + 1 + 1 + 2 // proto name + level + flags + keepalive
	remLen += 2 + len(info.ClientID)
	if hasWill {
		remLen += 2 + len(info.WillTopic)
		remLen += 2 + len(info.WillMessage)
	}
	if info.Username != "" {
		remLen += 2 + len(info.Username)
	}
	if info.Password != "" {
		remLen += 2 + len(info.Password)
	}

	if checkMemory(r, remLen) == 0 {
		return false
	}

	writeFixedHeader(r, ptConnect, false, QoS0, false, remLen)
	writeString(r, protocolName)
	writeU8(r, protocolLevel)
	writeU8(r, flags)
	writeU16(r, info.KeepAliveSecs)
	writeString(r, info.ClientID)
	if hasWill {
		writeString(r, info.WillTopic)
		writeString(r, info.WillMessage)
	}
	if info.Username != "" {
		writeString(r, info.Username)
	}
	if info.Password != "" {
		writeString(r, info.Password)
	}
	return true
}

// encodeSubscribe serializes a SUBSCRIBE packet at QoS 1 (fixed by MQTT
// 3.1.1 for SUBSCRIBE/UNSUBSCRIBE), carrying a single topic filter.
func encodeSubscribe(r *ringBuffer, packetID uint16, topic string, qos QoS) bool {
	remLen := 2 + 2 + len(topic) + 1
	if checkMemory(r, remLen) == 0 {
		return false
	}
	writeFixedHeader(r, ptSubscribe, false, QoS1, false, remLen)
	writeU16(r, packetID)
	writeString(r, topic)
	writeU8(r, byte(qos.clamp()))
	return true
}

// encodeUnsubscribe serializes an UNSUBSCRIBE packet at QoS 1.
func encodeUnsubscribe(r *ringBuffer, packetID uint16, topic string) bool {
	remLen := 2 + 2 + len(topic)
	if checkMemory(r, remLen) == 0 {
		return false
	}
	writeFixedHeader(r, ptUnsubscribe, false, QoS1, false, remLen)
	writeU16(r, packetID)
	writeString(r, topic)
	return true
}

// encodePublish serializes a PUBLISH packet. packetID is only written
// when qos > 0.
func encodePublish(r *ringBuffer, packetID uint16, topic string, payload []byte, qos QoS, retain, dup bool) bool {
	remLen := 2 + len(topic)
	if qos > QoS0 {
		remLen += 2
	}
	remLen += len(payload)
	if checkMemory(r, remLen) == 0 {
		return false
	}
	writeFixedHeader(r, ptPublish, dup, qos, retain, remLen)
	writeString(r, topic)
	if qos > QoS0 {
		writeU16(r, packetID)
	}
	writeRaw(r, payload)
	return true
}

// encodeAckLike serializes PUBACK/PUBREC/PUBREL/PUBCOMP, each a 2-byte
// body holding only the packet id.
func encodeAckLike(r *ringBuffer, pt packetType, packetID uint16) bool {
	const remLen = 2
	if checkMemory(r, remLen) == 0 {
		return false
	}
	writeFixedHeader(r, pt, false, QoS0, false, remLen)
	writeU16(r, packetID)
	return true
}

// encodePingreq serializes a zero-body PINGREQ.
func encodePingreq(r *ringBuffer) bool {
	if checkMemory(r, 0) == 0 {
		return false
	}
	writeFixedHeader(r, ptPingreq, false, QoS0, false, 0)
	return true
}

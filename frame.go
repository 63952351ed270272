package vfdgateway

import "fmt"

// Supported function codes. spec.md restricts this gateway to these four;
// anything else is an illegal function as far as the A1000 slave engine is
// concerned.
const (
	fcReadHolding    = 0x03
	fcReadInput      = 0x04
	fcWriteSingle    = 0x06
	fcWriteMultiple  = 0x10
	exceptionFlag    = 0x80
)

// request is a decoded FC 0x03/0x04/0x06/0x10 request PDU, slave ID
// included (RTU has no separate addressing layer).
type request struct {
	SlaveID byte
	FC      byte
	Addr    uint16
	Count   uint16   // 0x03, 0x04, 0x10
	Value   uint16   // 0x06
	Values  []uint16 // 0x10
}

// decodeRequest parses a complete RTU frame (slave id .. CRC) into a
// request. It does not itself verify the CRC — callers are expected to
// call verifyCRC first, per the Modbus-RTU convention of silently
// dropping frames that fail CRC rather than responding to them.
func decodeRequest(frame []byte) (*request, error) {
	if len(frame) < 6 {
		return nil, fmt.Errorf("vfdgateway: frame too short: %d bytes", len(frame))
	}
	body := frame[:len(frame)-2]
	r := &request{SlaveID: body[0], FC: body[1]}
	switch r.FC {
	case fcReadHolding, fcReadInput:
		if len(body) != 6 {
			return nil, fmt.Errorf("vfdgateway: malformed read request")
		}
		r.Addr = getWord(body, 2)
		r.Count = getWord(body, 4)
	case fcWriteSingle:
		if len(body) != 6 {
			return nil, fmt.Errorf("vfdgateway: malformed write request")
		}
		r.Addr = getWord(body, 2)
		r.Value = getWord(body, 4)
	case fcWriteMultiple:
		if len(body) < 7 {
			return nil, fmt.Errorf("vfdgateway: malformed write-multiple request")
		}
		r.Addr = getWord(body, 2)
		r.Count = getWord(body, 4)
		byteCount := int(body[6])
		if len(body) != 7+byteCount || byteCount != int(r.Count)*2 {
			return nil, fmt.Errorf("vfdgateway: byte count mismatch in write-multiple request")
		}
		r.Values = make([]uint16, r.Count)
		for i := range r.Values {
			r.Values[i] = getWord(body, 7+2*i)
		}
	default:
		return nil, illegalFunctionErrorF("unsupported function code 0x%02x", r.FC)
	}
	return r, nil
}

// frameLength returns the expected length (including the trailing CRC) of
// the first request-shaped frame starting at buf[0], or ok=false if more
// bytes are needed to know, or the function code at buf[1] isn't one this
// gateway understands the shape of (in which case the caller should treat
// this offset as not a frame start and keep scanning).
func frameLength(buf []byte) (n int, ok bool) {
	if len(buf) < 2 {
		return 0, false
	}
	switch buf[1] {
	case fcReadHolding, fcReadInput, fcWriteSingle:
		return 8, true
	case fcWriteMultiple:
		if len(buf) < 7 {
			return 0, false
		}
		byteCount := int(buf[6])
		return 9 + byteCount, true
	default:
		return 0, false
	}
}

// encodeReadResponse builds the FC 0x03/0x04 response PDU for values,
// with CRC appended.
func encodeReadResponse(slaveID, fc byte, values []uint16) []byte {
	out := make([]byte, 0, 3+2*len(values)+2)
	out = append(out, slaveID, fc, byte(2*len(values)))
	for _, v := range values {
		out = append(out, byte(v>>8), byte(v))
	}
	return appendCRC(out)
}

// encodeWriteSingleResponse echoes the request payload (address, value),
// with CRC appended.
func encodeWriteSingleResponse(slaveID byte, addr, value uint16) []byte {
	out := []byte{slaveID, fcWriteSingle, byte(addr >> 8), byte(addr), byte(value >> 8), byte(value)}
	return appendCRC(out)
}

// encodeWriteMultipleResponse carries (addr, count), with CRC appended.
func encodeWriteMultipleResponse(slaveID byte, addr, count uint16) []byte {
	out := []byte{slaveID, fcWriteMultiple, byte(addr >> 8), byte(addr), byte(count >> 8), byte(count)}
	return appendCRC(out)
}

// encodeException builds a Modbus exception response: [id, fc|0x80, code].
func encodeException(slaveID, fc, code byte) []byte {
	out := []byte{slaveID, fc | exceptionFlag, code}
	return appendCRC(out)
}

// encodeReadRequest builds a master-side FC 0x03/0x04 request, with CRC
// appended. Used by the bus arbitrator and heartbeat scheduler to talk to
// the CFW-11.
func encodeReadRequest(slaveID, fc byte, addr, count uint16) []byte {
	out := []byte{slaveID, fc, byte(addr >> 8), byte(addr), byte(count >> 8), byte(count)}
	return appendCRC(out)
}

// encodeWriteSingleRequest builds a master-side FC 0x06 request, with CRC
// appended.
func encodeWriteSingleRequest(slaveID byte, addr, value uint16) []byte {
	out := []byte{slaveID, fcWriteSingle, byte(addr >> 8), byte(addr), byte(value >> 8), byte(value)}
	return appendCRC(out)
}

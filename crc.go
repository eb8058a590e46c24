package modbus

// crc16Table is the pre-calculated lookup table for the Modbus CRC-16
// (reversed polynomial 0xA001), generated once at package init.
var crc16Table [256]uint16

func init() {
	const polynomial = 0xA001

	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ polynomial
			} else {
				crc >>= 1
			}
		}
		crc16Table[i] = crc
	}
}

// CRC16 calculates the Modbus CRC-16 checksum of data using the lookup table.
// The register is initialized to 0xFFFF. The value is transmitted
// little-endian on the wire: low byte first, high byte second.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)

	for _, b := range data {
		tableIndex := uint8(crc) ^ b
		crc = (crc >> 8) ^ crc16Table[tableIndex]
	}

	return crc
}

// crc16Direct calculates CRC-16 bit by bit without the lookup table.
// Kept for cross-checking the table in tests.
func crc16Direct(data []byte) uint16 {
	const polynomial = 0xA001
	crc := uint16(0xFFFF)

	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ polynomial
			} else {
				crc >>= 1
			}
		}
	}

	return crc
}

// appendCRC16 appends the little-endian CRC of everything already in frame.
func appendCRC16(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// verifyCRC16 checks the trailing little-endian CRC of an RTU frame.
func verifyCRC16(frame []byte) bool {
	if len(frame) < 4 {
		return false
	}
	dataLen := len(frame) - 2
	calculated := CRC16(frame[:dataLen])
	received := uint16(frame[dataLen]) | uint16(frame[dataLen+1])<<8
	return calculated == received
}

// LRC calculates the Modbus ASCII longitudinal redundancy check: the two's
// complement of the sum of all bytes, truncated to 8 bits.
func LRC(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return byte(^sum + 1)
}

// lrc accumulates an LRC incrementally while a frame is being assembled.
type lrc struct {
	sum byte
}

func (l *lrc) reset() *lrc {
	l.sum = 0
	return l
}

func (l *lrc) pushByte(b byte) *lrc {
	l.sum += b
	return l
}

func (l *lrc) pushBytes(data []byte) *lrc {
	for _, b := range data {
		l.sum += b
	}
	return l
}

func (l *lrc) value() byte {
	return byte(^l.sum + 1)
}

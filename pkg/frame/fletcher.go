package frame

// Fletcher-16 as used by the RS232 bridge firmware: both running sums seeded
// with zero, modulus 255, high byte is the second sum. The value crosses the
// wire, so both ends have to agree bit-for-bit.

type Fletcher16Digest struct {
	s1 uint16
	s2 uint16
}

func (d *Fletcher16Digest) WriteByte(b byte) {
	d.s1 = (d.s1 + uint16(b)) % 255
	d.s2 = (d.s2 + d.s1) % 255
}

func (d *Fletcher16Digest) Write(data []byte) {
	for _, b := range data {
		d.WriteByte(b)
	}
}

func (d *Fletcher16Digest) Sum16() uint16 {
	return d.s2<<8 | d.s1
}

func (d *Fletcher16Digest) Reset() {
	d.s1 = 0
	d.s2 = 0
}

// Fletcher16 computes the checksum of data in one call.
func Fletcher16(data []byte) uint16 {
	digest := Fletcher16Digest{}
	digest.Write(data)
	return digest.Sum16()
}

// Package meshpacket decodes the leading header byte of a mesh packet for
// diagnostics. The bridge treats packet contents as opaque; this exists only
// so log lines can say "FLOOD/GRP_TXT" instead of a hex dump.
package meshpacket

import "fmt"

type Route uint8

const (
	RouteDirect    Route = 0x00
	RouteFlood     Route = 0x01
	RouteTransport Route = 0x02
)

type PacketType uint8

const (
	TypeTxtMsg PacketType = 0x00
	TypeAck    PacketType = 0x03
	TypeAdvert PacketType = 0x04
	TypeGrpTxt PacketType = 0x05
)

func (r Route) String() string {
	switch r {
	case RouteDirect:
		return "DIRECT"
	case RouteFlood:
		return "FLOOD"
	case RouteTransport:
		return "TRANSPORT"
	}
	return fmt.Sprintf("0x%02X", uint8(r))
}

func (t PacketType) String() string {
	switch t {
	case TypeTxtMsg:
		return "TXT_MSG"
	case TypeAck:
		return "ACK"
	case TypeAdvert:
		return "ADVERT"
	case TypeGrpTxt:
		return "GRP_TXT"
	}
	return fmt.Sprintf("0x%02X", uint8(t))
}

type Header struct {
	Route Route
	Type  PacketType
}

// ParseHeader decodes the first byte of a mesh packet. The header byte packs
// the route in the low two bits and the packet type in the next four.
func ParseHeader(payload []byte) (Header, bool) {
	if len(payload) == 0 {
		return Header{}, false
	}
	return Header{
		Route: Route(payload[0] & 0x03),
		Type:  PacketType((payload[0] >> 2) & 0x0F),
	}, true
}

func (h Header) String() string {
	return fmt.Sprintf("%s/%s", h.Route, h.Type)
}

package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Address represents an address on the IP network
type Address struct {
	IP   string
	Port uint16
}

func (a Address) String() string {
	return a.IP + ":" + strconv.FormatUint(uint64(a.Port), 10)
}

// NewAddress constructs a new address from a string in the format "IP:Port".
func NewAddress(str string) (Address, error) {
	split := strings.Split(str, ":")
	if len(split) != 2 {
		return Address{}, fmt.Errorf("invalid address format %q", str)
	}
	port, err := strconv.ParseUint(split[1], 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port in %q: %w", str, err)
	}
	return Address{
		IP:   split[0],
		Port: uint16(port),
	}, nil
}

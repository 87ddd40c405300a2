package escrow

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// FormatAddress renders an identity as 0x-prefixed lowercase hex.
func FormatAddress(addr [20]byte) string {
	return "0x" + hexAddr(addr)
}

// ParseAddress accepts a 40 digit hex identity with or without the 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !ethcommon.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("escrow: invalid address %q", value)
	}
	return ethcommon.HexToAddress(trimmed), nil
}

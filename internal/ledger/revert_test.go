package ledger

import (
	"encoding/hex"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestDecodeRevertReasonABIFramed(t *testing.T) {
	out := EncodeRevertReason("auction already ended")
	check.Equal(t, "auction already ended", DecodeRevertReason(out))
}

func TestDecodeRevertReasonHexString(t *testing.T) {
	out := "0x" + hex.EncodeToString(EncodeRevertReason("only the seller can end the auction"))
	check.Equal(t, "only the seller can end the auction", DecodeRevertReason([]byte(out)))
}

func TestDecodeRevertReasonUnframedText(t *testing.T) {
	// some nodes return the selector followed by raw text
	out := "0x08c379a0" + hex.EncodeToString([]byte("bid too low"))
	check.Equal(t, "bid too low", DecodeRevertReason([]byte(out)))
}

func TestDecodeRevertReasonEmpty(t *testing.T) {
	check.Equal(t, "", DecodeRevertReason(nil))
	check.Equal(t, "", DecodeRevertReason([]byte("0x")))
	check.Equal(t, "", DecodeRevertReason([]byte("0xdeadbeef00")))
	check.Equal(t, "", DecodeRevertReason([]byte("0xnothex")))
}

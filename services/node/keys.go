package node

import (
	"encoding/hex"

	"loranode-go/errcode"
	"loranode-go/services/node/internal/mac"
	"loranode-go/types"
)

// ParseKeys decodes the hex OTAA identity from configuration.
func ParseKeys(c types.LoRaWANConfig) (mac.Keys, error) {
	var k mac.Keys
	if err := decodeHex(k.DevEUI[:], c.DevEUI, "dev_eui"); err != nil {
		return k, err
	}
	if err := decodeHex(k.AppEUI[:], c.AppEUI, "app_eui"); err != nil {
		return k, err
	}
	if err := decodeHex(k.AppKey[:], c.AppKey, "app_key"); err != nil {
		return k, err
	}
	return k, nil
}

func decodeHex(dst []byte, s, field string) error {
	if hex.DecodedLen(len(s)) != len(dst) {
		return errcode.New(errcode.ConfigurationError, "node.keys", field+": wrong length")
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return errcode.New(errcode.ConfigurationError, "node.keys", field+": not hex")
	}
	return nil
}

package mac

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"

	"github.com/jacobsa/crypto/cmac"

	"loranode-go/errcode"
	"loranode-go/services/node/internal/chanplan"
)

// Message types (MHDR bits 7..5).
const (
	mtJoinRequest         = 0x00
	mtJoinAccept          = 0x01
	mtUnconfirmedDataUp   = 0x02
	mtUnconfirmedDataDown = 0x03
	mtConfirmedDataUp     = 0x04
	mtConfirmedDataDown   = 0x05
)

const (
	dirUp   = 0
	dirDown = 1

	fctrlAck = 0x20

	// MaxPayload is the largest FRMPayload accepted for an uplink.
	MaxPayload = 222
)

// Keys identify the device for OTAA. EUIs are in display (MSB first) order.
type Keys struct {
	DevEUI [8]byte
	AppEUI [8]byte
	AppKey [16]byte
}

// Session is the state negotiated by a join. DevAddr is kept in wire
// (LSB first) order.
type Session struct {
	DevAddr    [4]byte
	NetID      [3]byte
	AppNonce   [3]byte
	NwkSKey    [16]byte
	AppSKey    [16]byte
	DLSettings uint8
	RxDelay    uint8
	CFList     []byte
	FCntUp     uint32
	FCntDown   uint32 // next expected downlink counter
}

// Addr returns the device address as a number.
func (s *Session) Addr() uint32 { return binary.LittleEndian.Uint32(s.DevAddr[:]) }

// Downlink is a decoded downlink data frame.
type Downlink struct {
	FCnt      uint32
	Ack       bool
	Confirmed bool
	FPort     uint8
	HasPort   bool
	Payload   []byte
}

// JoinRequest builds a join-request PHYPayload.
func JoinRequest(k *Keys, devNonce uint16) []byte {
	buf := make([]byte, 0, 23)
	buf = append(buf, mtJoinRequest<<5)
	buf = appendReversed(buf, k.AppEUI[:])
	buf = appendReversed(buf, k.DevEUI[:])
	buf = binary.LittleEndian.AppendUint16(buf, devNonce)
	mic := computeMIC(k.AppKey[:], buf)
	return append(buf, mic[:]...)
}

// DecodeJoinAccept decrypts and verifies a join-accept and derives the
// session keys.
func DecodeJoinAccept(phy []byte, appKey [16]byte, devNonce uint16) (*Session, error) {
	const op = "mac.join_accept"
	if len(phy) != 17 && len(phy) != 33 {
		return nil, errcode.New(errcode.InvalidPayload, op, "bad length")
	}
	if phy[0]>>5 != mtJoinAccept {
		return nil, errcode.New(errcode.InvalidPayload, op, "not a join accept")
	}
	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return nil, errcode.Wrap(errcode.Error, op, err)
	}
	enc := phy[1:]
	dec := make([]byte, len(enc))
	for i := 0; i < len(enc); i += aes.BlockSize {
		// The network encrypts with AES decrypt, so the device decrypts with encrypt.
		block.Encrypt(dec[i:], enc[i:])
	}

	body := dec[:len(dec)-4]
	want := computeMIC(appKey[:], append([]byte{phy[0]}, body...))
	if !bytes.Equal(want[:], dec[len(dec)-4:]) {
		return nil, errcode.New(errcode.ProtocolError, op, "bad mic")
	}

	s := &Session{}
	copy(s.AppNonce[:], body[0:3])
	copy(s.NetID[:], body[3:6])
	copy(s.DevAddr[:], body[6:10])
	s.DLSettings = body[10]
	s.RxDelay = body[11]
	if len(body) > 12 {
		s.CFList = append([]byte(nil), body[12:]...)
	}

	var in [aes.BlockSize]byte
	copy(in[1:4], s.AppNonce[:])
	copy(in[4:7], s.NetID[:])
	binary.LittleEndian.PutUint16(in[7:9], devNonce)
	in[0] = 0x01
	block.Encrypt(s.NwkSKey[:], in[:])
	in[0] = 0x02
	block.Encrypt(s.AppSKey[:], in[:])
	return s, nil
}

// EncodeUplink builds a data-up frame with the session's current FCntUp.
// The counter is not advanced.
func EncodeUplink(s *Session, fport uint8, payload []byte, confirmed bool) ([]byte, error) {
	const op = "mac.uplink"
	if len(payload) > MaxPayload {
		return nil, errcode.New(errcode.InvalidPayload, op, "payload too long")
	}
	mt := byte(mtUnconfirmedDataUp)
	if confirmed {
		mt = mtConfirmedDataUp
	}
	buf := make([]byte, 0, 13+len(payload))
	buf = append(buf, mt<<5)
	buf = append(buf, s.DevAddr[:]...)
	buf = append(buf, 0x00) // FCtrl
	buf = binary.LittleEndian.AppendUint16(buf, uint16(s.FCntUp))
	buf = append(buf, fport)
	key := s.AppSKey
	if fport == 0 {
		key = s.NwkSKey
	}
	enc, err := cryptFRM(key[:], dirUp, s.DevAddr, s.FCntUp, payload)
	if err != nil {
		return nil, errcode.Wrap(errcode.Error, op, err)
	}
	buf = append(buf, enc...)
	mic := frameMIC(s.NwkSKey[:], dirUp, s.DevAddr, s.FCntUp, buf)
	return append(buf, mic[:]...), nil
}

// DecodeDownlink verifies and decrypts a data-down frame addressed to the
// session and advances FCntDown on success.
func DecodeDownlink(s *Session, phy []byte) (*Downlink, error) {
	const op = "mac.downlink"
	if len(phy) < 12 {
		return nil, errcode.New(errcode.InvalidPayload, op, "short frame")
	}
	mt := phy[0] >> 5
	if mt != mtUnconfirmedDataDown && mt != mtConfirmedDataDown {
		return nil, errcode.New(errcode.InvalidPayload, op, "not a data downlink")
	}
	if !bytes.Equal(phy[1:5], s.DevAddr[:]) {
		return nil, errcode.New(errcode.InvalidPayload, op, "other device")
	}
	fctrl := phy[5]
	foptsLen := int(fctrl & 0x0f)
	hdrEnd := 8 + foptsLen
	if len(phy) < hdrEnd+4 {
		return nil, errcode.New(errcode.InvalidPayload, op, "short frame")
	}

	fcnt := s.FCntDown&^0xffff | uint32(binary.LittleEndian.Uint16(phy[6:8]))
	if fcnt < s.FCntDown {
		fcnt += 0x10000
	}
	if fcnt-s.FCntDown >= chanplan.MaxFCntGap {
		return nil, errcode.New(errcode.ProtocolError, op, "fcnt gap")
	}

	msg := phy[:len(phy)-4]
	want := frameMIC(s.NwkSKey[:], dirDown, s.DevAddr, fcnt, msg)
	if !bytes.Equal(want[:], phy[len(phy)-4:]) {
		return nil, errcode.New(errcode.ProtocolError, op, "bad mic")
	}

	dl := &Downlink{
		FCnt:      fcnt,
		Ack:       fctrl&fctrlAck != 0,
		Confirmed: mt == mtConfirmedDataDown,
	}
	if len(msg) > hdrEnd {
		dl.FPort = msg[hdrEnd]
		dl.HasPort = true
		key := s.AppSKey
		if dl.FPort == 0 {
			key = s.NwkSKey
		}
		pl, err := cryptFRM(key[:], dirDown, s.DevAddr, fcnt, msg[hdrEnd+1:])
		if err != nil {
			return nil, errcode.Wrap(errcode.Error, op, err)
		}
		dl.Payload = pl
	}
	s.FCntDown = fcnt + 1
	return dl, nil
}

// cryptFRM applies the LoRaWAN CTR-style keystream; it both encrypts and
// decrypts.
func cryptFRM(key []byte, dir uint8, addr [4]byte, fcnt uint32, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(in))
	var a, s [aes.BlockSize]byte
	a[0] = 0x01
	a[5] = dir
	copy(a[6:10], addr[:])
	binary.LittleEndian.PutUint32(a[10:14], fcnt)
	for i := 0; i < len(in); i += aes.BlockSize {
		a[15] = byte(i/aes.BlockSize + 1)
		block.Encrypt(s[:], a[:])
		for j := 0; j < aes.BlockSize && i+j < len(in); j++ {
			out[i+j] = in[i+j] ^ s[j]
		}
	}
	return out, nil
}

func frameMIC(key []byte, dir uint8, addr [4]byte, fcnt uint32, msg []byte) [4]byte {
	b0 := make([]byte, aes.BlockSize, aes.BlockSize+len(msg))
	b0[0] = 0x49
	b0[5] = dir
	copy(b0[6:10], addr[:])
	binary.LittleEndian.PutUint32(b0[10:14], fcnt)
	b0[15] = byte(len(msg))
	return computeMIC(key, append(b0, msg...))
}

func computeMIC(key, data []byte) [4]byte {
	var mic [4]byte
	h, err := cmac.New(key)
	if err != nil {
		return mic
	}
	h.Write(data)
	copy(mic[:], h.Sum(nil))
	return mic
}

func appendReversed(dst, src []byte) []byte {
	for i := len(src) - 1; i >= 0; i-- {
		dst = append(dst, src[i])
	}
	return dst
}

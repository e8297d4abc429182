package firmware

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// mcubootMagic is the little-endian magic value at the start of every
// MCUboot image header.
const mcubootMagic = 0x96f3b83d

// mcubootHeaderMinSize is the minimum number of bytes needed to read
// the fixed-offset header fields used to compute the image hash.
const mcubootHeaderMinSize = 16

// McubootHash computes the MCUboot image hash over the header,
// protected TLVs, and payload of an MCUboot-formatted firmware image:
// SHA-256 of data[:hdr_size+protect_tlv_size+img_size]. This excludes
// the trailing TLV area carrying the signature, matching what MCUmgr
// reports back from image_state for post-update verification.
func McubootHash(data []byte) (string, error) {
	if len(data) < mcubootHeaderMinSize {
		return "", fmt.Errorf("binary too small to be MCUboot image (%d bytes)", len(data))
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != mcubootMagic {
		return "", fmt.Errorf("not an MCUboot image (magic=0x%08x, expected 0x%08x)", magic, mcubootMagic)
	}

	hdrSize := int(binary.LittleEndian.Uint16(data[8:10]))
	protectTLVSize := int(binary.LittleEndian.Uint16(data[10:12]))
	imgSize := int(binary.LittleEndian.Uint32(data[12:16]))

	hashSize := hdrSize + protectTLVSize + imgSize
	if len(data) < hashSize {
		return "", fmt.Errorf("binary truncated: need %d bytes for hash, have %d bytes", hashSize, len(data))
	}

	sum := sha256.Sum256(data[:hashSize])
	return hex.EncodeToString(sum[:]), nil
}

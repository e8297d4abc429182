package fwmp

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/CogniPilot/dendrite/pkg/models"
)

// Wire-level group/id constants (original_source/dendrite-mcumgr/query.rs).
const (
	GroupDefault = 0
	GroupImage   = 1
	GroupHCDF    = 100

	IDOSInfo         = 7
	IDBootloaderInfo = 8
	IDImageState     = 0
	IDImageUpload    = 1
	IDReset          = 5
	IDEcho           = 0
	IDHCDFInfo       = 0
)

// DefaultPort is the well-known FWMP UDP port.
const DefaultPort uint16 = 1337

// Default per-call timeouts.
const (
	DefaultQueryTimeout = 5 * time.Second
	ProbeTimeout        = 1 * time.Second
	UploadChunkTimeout  = 10 * time.Second
)

// bootloaderModes maps the integer mode reported by bootloader-info to its
// human label.
var bootloaderModes = map[int]string{
	0: "single-app",
	1: "swap-scratch",
	2: "overwrite",
	3: "swap-no-scratch",
	4: "direct-xip",
	5: "direct-xip-revert",
	6: "ram-loader",
	7: "firmware-loader",
	8: "ram-load-network-core",
	9: "swap-move",
}

// BootloaderModeName returns the label for a bootloader-info mode value,
// or "unknown" if out of range.
func BootloaderModeName(mode int) string {
	if name, ok := bootloaderModes[mode]; ok {
		return name
	}
	return "unknown"
}

// Ping sends the FWMP liveness echo: write group=0 id=0 body {"d":"ping"},
// expects {"r":"ping"} in reply.
func Ping(t *Transport, timeout time.Duration) (bool, error) {
	body, err := cbor.Marshal(pingMsg{D: "ping"})
	if err != nil {
		return false, err
	}
	resp, err := t.Transceive(OpWrite, GroupDefault, IDEcho, body, timeout)
	if err != nil {
		return false, err
	}
	var pong pongMsg
	if err := cbor.Unmarshal(resp, &pong); err != nil {
		return false, ErrInvalidResponse
	}
	return pong.R == "ping", nil
}

// Probe is a liveness-only check: true iff the device answers Ping within
// ProbeTimeout. It never mutates device state (S1).
func Probe(host string, port uint16) bool {
	t, err := Dial(host, port)
	if err != nil {
		return false
	}
	defer t.Close()
	ok, err := Ping(t, ProbeTimeout)
	return err == nil && ok
}

type osInfoReq struct {
	Fmt string `cbor:"fmt"`
}

type osInfoResp struct {
	Output string `cbor:"output"`
	Rc     int    `cbor:"rc"`
}

// OSInfo queries os-info with the given format char ("h" hwid, "a" full
// banner, "p" processor string). A non-zero device-reported rc is a
// protocol error, not a successful response with garbage output.
func OSInfo(t *Transport, format string, timeout time.Duration) (string, error) {
	body, err := cbor.Marshal(osInfoReq{Fmt: format})
	if err != nil {
		return "", err
	}
	resp, err := t.Transceive(OpRead, GroupDefault, IDOSInfo, body, timeout)
	if err != nil {
		return "", err
	}
	var out osInfoResp
	if err := cbor.Unmarshal(resp, &out); err != nil {
		return "", ErrInvalidResponse
	}
	if out.Rc != 0 {
		return "", fmt.Errorf("%w: os-info rc=%d", ErrProtocol, out.Rc)
	}
	return out.Output, nil
}

type bootloaderInfoResp struct {
	Bootloader string `cbor:"bootloader"`
	Mode       int    `cbor:"mode"`
	NoDowngrade bool  `cbor:"no_downgrade"`
}

// BootloaderInfo queries bootloader-info, returning name, mode label, and
// the no-downgrade flag.
func BootloaderInfo(t *Transport, timeout time.Duration) (name string, mode string, noDowngrade bool, err error) {
	resp, err := t.Transceive(OpRead, GroupDefault, IDBootloaderInfo, nil, timeout)
	if err != nil {
		return "", "", false, err
	}
	var out bootloaderInfoResp
	if err := cbor.Unmarshal(resp, &out); err != nil {
		return "", "", false, ErrInvalidResponse
	}
	return out.Bootloader, BootloaderModeName(out.Mode), out.NoDowngrade, nil
}

type imageStateResp struct {
	Images []wireImageSlot `cbor:"images"`
}

type wireImageSlot struct {
	Slot      int    `cbor:"slot"`
	Version   string `cbor:"version"`
	Hash      []byte `cbor:"hash"`
	Bootable  bool   `cbor:"bootable"`
	Pending   bool   `cbor:"pending"`
	Confirmed bool   `cbor:"confirmed"`
	Active    bool   `cbor:"active"`
}

// ImageState queries the device's image-state list (invariant 3: at most
// one entry has Active set -- that is a device-reported property this
// function does not itself enforce, only surfaces).
func ImageState(t *Transport, timeout time.Duration) ([]models.ImageSlot, error) {
	resp, err := t.Transceive(OpRead, GroupImage, IDImageState, nil, timeout)
	if err != nil {
		return nil, err
	}
	var out imageStateResp
	if err := cbor.Unmarshal(resp, &out); err != nil {
		return nil, ErrInvalidResponse
	}
	slots := make([]models.ImageSlot, len(out.Images))
	for i, s := range out.Images {
		slots[i] = models.ImageSlot{
			Slot: s.Slot, Version: s.Version, Hash: s.Hash,
			Bootable: s.Bootable, Pending: s.Pending, Confirmed: s.Confirmed, Active: s.Active,
		}
	}
	return slots, nil
}

type imageTestReq struct {
	Hash    []byte `cbor:"hash"`
	Confirm bool   `cbor:"confirm"`
}

// ImageTest marks the image with the given hash as pending-test.
func ImageTest(t *Transport, hash []byte, timeout time.Duration) error {
	body, err := cbor.Marshal(imageTestReq{Hash: hash, Confirm: false})
	if err != nil {
		return err
	}
	_, err = t.Transceive(OpWrite, GroupImage, IDImageState, body, timeout)
	return err
}

// Reset requests a device reset.
func Reset(t *Transport, timeout time.Duration) error {
	_, err := t.Transceive(OpWrite, GroupDefault, IDReset, nil, timeout)
	return err
}

type uploadChunkReq struct {
	Off  int    `cbor:"off"`
	Data []byte `cbor:"data"`
	Len  int    `cbor:"len,omitempty"`
}

// ProgressFunc reports upload progress as bytes uploaded so far out of
// the image's total size.
type ProgressFunc func(uploaded, total int)

// UploadImage chunks data into MTU-sized writes to the image-upload
// endpoint, reporting progress after each chunk.
func UploadImage(t *Transport, data []byte, mtu int, onProgress ProgressFunc) error {
	if mtu <= 0 {
		mtu = defaultMTU
	}
	total := len(data)
	off := 0
	for off < total {
		end := off + mtu
		if end > total {
			end = total
		}
		req := uploadChunkReq{Off: off, Data: data[off:end]}
		if off == 0 {
			req.Len = total
		}
		body, err := cbor.Marshal(req)
		if err != nil {
			return err
		}
		if _, err := t.Transceive(OpWrite, GroupImage, IDImageUpload, body, UploadChunkTimeout); err != nil {
			return err
		}
		off = end
		if onProgress != nil {
			onProgress(off, total)
		}
	}
	return nil
}

type hcdfInfoResp struct {
	URL string `cbor:"url"`
	Sha string `cbor:"sha"`
}

// HCDFInfo queries the optional hcdf-info endpoint. Absence (a transport
// error) is not itself an error to the caller -- callers should treat a
// non-nil error here as "no hint available", not a scan failure.
func HCDFInfo(t *Transport, timeout time.Duration) (url, sha string, err error) {
	resp, err := t.Transceive(OpRead, GroupHCDF, IDHCDFInfo, nil, timeout)
	if err != nil {
		return "", "", err
	}
	var out hcdfInfoResp
	if err := cbor.Unmarshal(resp, &out); err != nil {
		return "", "", ErrInvalidResponse
	}
	return out.URL, out.Sha, nil
}

// DeviceQuery is the best-effort bundle of fields gathered by QueryDevice.
// Any single field's failure leaves it at its zero value; it does not
// fail the call as a whole.
type DeviceQuery struct {
	HWID        string
	Banner      string
	Processor   string
	Bootloader  string
	BootMode    string
	NoDowngrade bool
	Images      []models.ImageSlot
	HCDFUrl     string
	HCDFSha     string
}

// QueryDevice pings first (S1: not-reachable short-circuits everything
// else), then gathers hwid, banner, processor, bootloader, and
// image-state, each independently best-effort.
func QueryDevice(host string, port uint16) (*DeviceQuery, error) {
	t, err := Dial(host, port)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	if ok, err := Ping(t, ProbeTimeout); err != nil || !ok {
		return nil, ErrNotReachable
	}

	q := &DeviceQuery{}
	if hwid, err := OSInfo(t, "h", DefaultQueryTimeout); err == nil {
		q.HWID = hwid
	}
	if banner, err := OSInfo(t, "a", DefaultQueryTimeout); err == nil {
		q.Banner = banner
	}
	if proc, err := OSInfo(t, "p", DefaultQueryTimeout); err == nil {
		q.Processor = proc
	}
	if name, mode, nd, err := BootloaderInfo(t, DefaultQueryTimeout); err == nil {
		q.Bootloader, q.BootMode, q.NoDowngrade = name, mode, nd
	}
	if images, err := ImageState(t, DefaultQueryTimeout); err == nil {
		q.Images = images
	}
	if url, sha, err := HCDFInfo(t, DefaultQueryTimeout); err == nil {
		q.HCDFUrl, q.HCDFSha = url, sha
	}
	return q, nil
}

// ParseOSInfoBanner extracts app name and board from an os-info("a")
// banner. Tokens are whitespace separated; token[1] is the app name; the
// first token containing '/' and not starting with a digit is
// "<board>/<soc>[/<cpu>]" -- board is the slice before the first '/'.
//
// Example (S2): "Zephyr optical-flow 4ad28d86da70 4.3.0-rc1 Sun Jan 4
// 02:34:48 2026 arm cortex-m33 mr_mcxn_t1/mcxn947/cpu0 Zephyr hwid:..."
// yields app="optical-flow", board="mr_mcxn_t1".
func ParseOSInfoBanner(banner string) (app, board string) {
	tokens := strings.Fields(banner)
	if len(tokens) > 1 {
		app = tokens[1]
	}
	for _, tok := range tokens {
		if !strings.Contains(tok, "/") {
			continue
		}
		if len(tok) > 0 && tok[0] >= '0' && tok[0] <= '9' {
			continue
		}
		board = strings.SplitN(tok, "/", 2)[0]
		break
	}
	return app, board
}

// ImageHashHex hex-encodes an image's hash for comparison against a
// manifest's mcuboot_hash (case-insensitive per spec).
func ImageHashHex(hash []byte) string {
	return strings.ToLower(hex.EncodeToString(hash))
}

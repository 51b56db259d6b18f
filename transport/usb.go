package transport

import "adbhost/adberrors"

// USB interface descriptor filter every ADB-capable interface must match.
const (
	ADBInterfaceClass    = 0xFF
	ADBInterfaceSubClass = 0x42
	ADBInterfaceProtocol = 0x01
)

// VendorIDs is the canonical Android-partner allow-list. Only devices
// reporting one of these vendor ids are probed for the ADB interface.
// Values match the upstream adb server's usb_vendors.h.
var VendorIDs = map[uint16]string{
	0x18d1: "Google",
	0x04e8: "Samsung",
	0x0bb4: "HTC",
	0x22b8: "Motorola",
	0x1004: "LG",
	0x0fce: "Sony Ericsson",
	0x054c: "Sony",
	0x2717: "Xiaomi",
	0x12d1: "Huawei",
	0x19d2: "ZTE",
	0x2a70: "OnePlus",
	0x0502: "Acer",
	0x0b05: "Asus",
	0x413c: "Dell",
	0x091e: "Garmin-Asus",
	0x0955: "NVIDIA",
	0x109b: "Hisense",
	0x1d4d: "Pegatron",
	0x0489: "Foxconn",
	0x1ebf: "Archos",
	0x1f53: "Lenovo",
	0x1782: "Spreadtrum",
	0x2ae5: "K-Touch",
	0x201E: "Haier",
	0x5c6:  "Qualcomm",
}

// USBDescriptor identifies one candidate device surfaced by enumeration:
// enough information for a caller's Transport constructor to find it
// again, and for tests to assert discovery matched the right device.
type USBDescriptor struct {
	VendorID    uint16
	ProductID   uint16
	Serial      string
	Path        string
	InEndpoint  uint8
	OutEndpoint uint8
}

// IsAndroidPartner reports whether vendorID is in the published allow-list.
func IsAndroidPartner(vendorID uint16) bool {
	_, ok := VendorIDs[vendorID]
	return ok
}

// USBDeviceOpener is the seam a caller plugs a concrete USB backend into
// (e.g. a CGo libusb binding, or a platform SDK). This module defines the
// vendor-id and interface-descriptor matching rules so every backend
// agrees on what counts as an ADB device; it does not itself talk to
// USB hardware.
type USBDeviceOpener interface {
	// Enumerate returns every attached device whose vendor id is in
	// VendorIDs and that exposes an interface matching the ADB descriptor
	// filter (ADBInterfaceClass/SubClass/Protocol, exactly two endpoints).
	Enumerate() ([]USBDescriptor, error)

	// Open claims the matched interface on d and returns a Transport bound
	// to its two bulk endpoints.
	Open(d USBDescriptor) (Transport, error)
}

// DiscoverUSB enumerates devices via opener and opens the first one found,
// surfacing ErrNoDevice if the allow-list/descriptor filter matches nothing.
func DiscoverUSB(opener USBDeviceOpener) (Transport, USBDescriptor, error) {
	descs, err := opener.Enumerate()
	if err != nil {
		return nil, USBDescriptor{}, err
	}
	if len(descs) == 0 {
		return nil, USBDescriptor{}, adberrors.ErrNoDevice
	}
	t, err := opener.Open(descs[0])
	if err != nil {
		return nil, USBDescriptor{}, err
	}
	return t, descs[0], nil
}

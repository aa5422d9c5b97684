// Package bledb names well-known Bluetooth SIG UUIDs and company
// identifiers for display.
package bledb

import "github.com/srg/blecentral/pkg/uuid"

var services = names{
	0x1800: "Generic Access",
	0x1801: "Generic Attribute",
	0x1802: "Immediate Alert",
	0x1803: "Link Loss",
	0x1804: "Tx Power",
	0x1805: "Current Time Service",
	0x1809: "Health Thermometer",
	0x180a: "Device Information",
	0x180d: "Heart Rate",
	0x180f: "Battery Service",
	0x1810: "Blood Pressure",
	0x1812: "Human Interface Device",
	0x1814: "Running Speed and Cadence",
	0x1816: "Cycling Speed and Cadence",
	0x1818: "Cycling Power",
	0x1819: "Location and Navigation",
	0x181a: "Environmental Sensing",
	0x181c: "User Data",
	0x181d: "Weight Scale",
	0x1826: "Fitness Machine",
	0xfe95: "Xiaomi Inc.",
}

var characteristics = names{
	0x2a00: "Device Name",
	0x2a01: "Appearance",
	0x2a04: "Peripheral Preferred Connection Parameters",
	0x2a05: "Service Changed",
	0x2a06: "Alert Level",
	0x2a07: "Tx Power Level",
	0x2a19: "Battery Level",
	0x2a1c: "Temperature Measurement",
	0x2a23: "System ID",
	0x2a24: "Model Number String",
	0x2a25: "Serial Number String",
	0x2a26: "Firmware Revision String",
	0x2a27: "Hardware Revision String",
	0x2a28: "Software Revision String",
	0x2a29: "Manufacturer Name String",
	0x2a2b: "Current Time",
	0x2a35: "Blood Pressure Measurement",
	0x2a37: "Heart Rate Measurement",
	0x2a38: "Body Sensor Location",
	0x2a39: "Heart Rate Control Point",
	0x2a4d: "Report",
	0x2a50: "PnP ID",
	0x2a53: "RSC Measurement",
	0x2a5b: "CSC Measurement",
	0x2a63: "Cycling Power Measurement",
	0x2a6e: "Temperature",
	0x2a6f: "Humidity",
	0x2a9d: "Weight Measurement",
}

var descriptors = names{
	0x2900: "Characteristic Extended Properties",
	0x2901: "Characteristic User Description",
	0x2902: "Client Characteristic Configuration",
	0x2903: "Server Characteristic Configuration",
	0x2904: "Characteristic Presentation Format",
	0x2905: "Characteristic Aggregate Format",
	0x2906: "Valid Range",
	0x2908: "Report Reference",
}

var companies = map[uint16]string{
	0x0006: "Microsoft",
	0x004c: "Apple, Inc.",
	0x0059: "Nordic Semiconductor ASA",
	0x0075: "Samsung Electronics Co. Ltd.",
	0x00e0: "Google",
	0x0157: "Anhui Huami Information Technology Co., Ltd.",
	0x038f: "Xiaomi Inc.",
}

// vendorUUIDs covers 128-bit UUIDs outside the SIG base.
var vendorUUIDs = map[uuid.UUID]string{
	uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e"): "Nordic UART Service",
	uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e"): "Nordic UART RX",
	uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e"): "Nordic UART TX",
	uuid.MustParse("ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6"): "Xiaomi Thermometer Service",
	uuid.MustParse("ebe0ccc1-7a0a-4b0c-8a1a-6ff2997da3a6"): "Xiaomi Temperature and Humidity",
}

type names map[uint16]string

func (n names) lookup(u uuid.UUID) string {
	if b := u.Shorten(); len(b) == 2 {
		return n[uint16(b[0])<<8|uint16(b[1])]
	}
	return vendorUUIDs[u]
}

// LookupService returns the service name, or "" when unknown.
func LookupService(u uuid.UUID) string { return services.lookup(u) }

func LookupCharacteristic(u uuid.UUID) string { return characteristics.lookup(u) }

func LookupDescriptor(u uuid.UUID) string { return descriptors.lookup(u) }

// LookupCompany names the Bluetooth SIG company identifier that leads
// manufacturer data, little-endian.
func LookupCompany(id uint16) string { return companies[id] }

// CompanyOf extracts the company identifier from manufacturer data.
func CompanyOf(manufacturerData []byte) (uint16, bool) {
	if len(manufacturerData) < 2 {
		return 0, false
	}
	return uint16(manufacturerData[0]) | uint16(manufacturerData[1])<<8, true
}

package types

import (
	"fmt"
	"strings"
)

// DeviceType classifies the hardware a data source reports from.
type DeviceType string

const (
	DeviceUnknown    DeviceType = "unknown"
	DeviceWatch      DeviceType = "watch"
	DeviceBand       DeviceType = "band"
	DeviceRing       DeviceType = "ring"
	DevicePhone      DeviceType = "phone"
	DeviceChestStrap DeviceType = "chest_strap"
	DeviceScale      DeviceType = "scale"
	DeviceOther      DeviceType = "other"
)

var deviceHints = []struct {
	needle string
	device DeviceType
}{
	{"watch", DeviceWatch},
	{"forerunner", DeviceWatch},
	{"fenix", DeviceWatch},
	{"venu", DeviceWatch},
	{"instinct", DeviceWatch},
	{"vantage", DeviceWatch},
	{"grit x", DeviceWatch},
	{"coros pace", DeviceWatch},
	{"ring", DeviceRing},
	{"oura", DeviceRing},
	{"whoop", DeviceBand},
	{"band", DeviceBand},
	{"charge", DeviceBand},
	{"inspire", DeviceBand},
	{"vivosmart", DeviceBand},
	{"iphone", DevicePhone},
	{"pixel", DevicePhone},
	{"phone", DevicePhone},
	{"h10", DeviceChestStrap},
	{"hrm", DeviceChestStrap},
	{"strap", DeviceChestStrap},
	{"scale", DeviceScale},
	{"body+", DeviceScale},
	{"index s2", DeviceScale},
}

// InferDeviceType guesses the device type from a device model string.
func InferDeviceType(deviceModel string) DeviceType {
	lower := strings.ToLower(strings.TrimSpace(deviceModel))
	if lower == "" {
		return DeviceUnknown
	}
	for _, hint := range deviceHints {
		if strings.Contains(lower, hint.needle) {
			return hint.device
		}
	}
	return DeviceOther
}

// ParseDeviceType parses a device type name.
func ParseDeviceType(s string) (DeviceType, error) {
	d := DeviceType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DeviceTypes() {
		if d == known {
			return d, nil
		}
	}
	return DeviceUnknown, fmt.Errorf("unknown device type %q", s)
}

// DeviceTypes returns every device type.
func DeviceTypes() []DeviceType {
	return []DeviceType{
		DeviceWatch, DeviceBand, DeviceRing, DevicePhone,
		DeviceChestStrap, DeviceScale, DeviceOther, DeviceUnknown,
	}
}

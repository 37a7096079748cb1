package main

// SDL hat bitmask bits.
const (
	hatUp    uint8 = 0x01
	hatRight uint8 = 0x02
	hatDown  uint8 = 0x04
	hatLeft  uint8 = 0x08
)

// normalizeSDLAxis scales an SDL axis reading to [-1,1].
func normalizeSDLAxis(v int16) float64 {
	if v < 0 {
		return float64(v) / 32768
	}
	return float64(v) / 32767
}

// hatVector converts an SDL hat bitmask to a direction vector.
func hatVector(bits uint8) Vector {
	var v Vector
	if bits&hatRight != 0 {
		v.X++
	}
	if bits&hatLeft != 0 {
		v.X--
	}
	if bits&hatUp != 0 {
		v.Y++
	}
	if bits&hatDown != 0 {
		v.Y--
	}
	return v
}

// ControllerInfo describes a connected joystick.
type ControllerInfo struct {
	Device int
	Name   string
}

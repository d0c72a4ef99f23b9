//go:build tinygo && baremetal

package hal

import (
	"machine"

	"tinygo.org/x/drivers/flash"
)

// newDeviceFlash wires the external SPI NOR part. The flash driver already
// speaks the tinyfs block-device contract, so it drops straight into Flash.
func newDeviceFlash() Flash {
	dev := flash.NewSPI(
		&machine.SPI1,
		machine.SPI1_SDO_PIN,
		machine.SPI1_SDI_PIN,
		machine.SPI1_SCK_PIN,
		machine.D5,
	)
	if err := dev.Configure(&flash.DeviceConfig{Identifier: flash.DefaultDeviceIdentifier}); err != nil {
		return dev
	}
	return dev
}

// Package driver registers the built-in hardware drivers.
package driver

import (
	"github.com/kilianp07/mutorelay/core/hardware"
	"github.com/kilianp07/mutorelay/infra/driver/mqttdrv"
	"github.com/kilianp07/mutorelay/infra/driver/serialdrv"
	"github.com/kilianp07/mutorelay/infra/driver/sim"
)

// init registers built-in drivers.
func init() {
	_ = hardware.RegisterDriver("sim", func(conf map[string]any) (hardware.Driver, error) {
		d, err := sim.Factory(conf)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	_ = hardware.RegisterDriver("mqtt", func(conf map[string]any) (hardware.Driver, error) {
		d, err := mqttdrv.Factory(conf)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	_ = hardware.RegisterDriver("serial", func(conf map[string]any) (hardware.Driver, error) {
		d, err := serialdrv.Factory(conf)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

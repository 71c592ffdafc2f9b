// Package factory provides a small generic registry used to instantiate
// modules from configuration: hardware drivers, metrics sinks and journal
// stores. Modules are defined by a type string and a map of raw settings.
// Factories decode the settings into typed structs and return the concrete
// implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[hardware.Driver]()
//	reg.Register("serial", func(conf map[string]any) (hardware.Driver, error) {
//	    var c serialdrv.Config
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return serialdrv.Open(c)
//	})
//	d, err := reg.Create(factory.ModuleConfig{Type: "serial", Conf: map[string]any{"port": "/dev/ttyUSB0"}})
package factory

// Package infra contains technical adapters such as hardware drivers,
// metrics sinks and the error monitor. These packages should depend only
// on the interfaces defined in the core packages.
package infra

// Package calibration defines display calibrations and the instruments that
// measure them. It contains:
//
//   - Calibration: the contract every variant fulfils (measure, load, save, apply)
//   - Base: a calibration without an instrument; it holds the description,
//     the curve and the persisted record
//   - Minolta: a Base bound to a Minolta CS-100A colorimeter over a transport
//   - Curve: the transfer function Apply maps values through
//   - Record: the persisted calibration state (JSON, YAML or TOML)
//
// These types are shared by daemon, client and CLI code so the JSON contracts
// stay consistent.
package calibration

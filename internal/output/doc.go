// Package output makes gate results byte-reproducible.
//
// Floats are rounded to six decimals before they are compared or stored,
// object keys are emitted in sorted order and nil or empty values are
// omitted, so identical decisions always encode to identical bytes. The
// same normalized form backs the JSON and YAML renderings of a report.
package output

// Package protocol defines the JSON payloads exchanged with the rider robot.
//
// Outbound envelopes always carry a "timestamp" in fractional Unix seconds.
// Inbound reports use pointer fields so that an absent field can be told apart
// from a zero value; Validate reports payloads that miss a required field.
package protocol

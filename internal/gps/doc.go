// Package gps turns RMC and GGA sentences into JSON position fixes.
//
// It is the optional decoder stage of a session: every accepted sentence is
// offered to Decode and a record is produced only when the sentence moved the
// fix. Other sentence types are ignored.
package gps

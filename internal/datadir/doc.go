// Package datadir provides path and write helpers for the service data
// directory.
//
// Layout under the root (default /facenroll_data):
//
//	config.json   persisted settings
//	staff         staff accounts (name:hash:role)
//	roster.yaml   optional student roster
//	history/      one YAML stream per day of runs
//	logs/         daily log files
package datadir

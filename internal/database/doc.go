// Package database manages the connection to the target MongoDB deployment
// and exposes the handful of server-level queries the migration engine needs:
// ping, server version, collection listing and collection statistics.
package database

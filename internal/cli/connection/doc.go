// Package connection is the chatmesh-cli client for a node's admin port.
package connection

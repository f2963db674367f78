// Package command defines the chatmesh-cli commands. Each command calls
// the admin port of one node and prints the result as a table or JSON.
package command

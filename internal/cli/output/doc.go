// Package output renders chatmesh-cli results as aligned tables or
// indented JSON.
package output

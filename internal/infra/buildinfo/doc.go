// Package buildinfo reports build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/chatmesh-go/internal/infra/buildinfo.Version=v1.0.0"
package buildinfo

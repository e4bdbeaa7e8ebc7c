//go:build !linux

package uring

import "fmt"

func newPassthruRing(config Config) (Ring, error) {
	return nil, fmt.Errorf("io_uring passthrough requires linux")
}

//go:build !unix

package server

import "syscall"

func reuseAddress(network, address string, c syscall.RawConn) error {
	return nil
}

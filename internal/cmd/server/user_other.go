//go:build !unix

package serverrun

import "errors"

func dropPrivileges(string) error {
	return errors.New("--user is only supported on unix")
}

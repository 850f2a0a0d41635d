package notify

import "golang.org/x/sys/unix"

func closeFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

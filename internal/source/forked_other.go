//go:build !linux

package source

import "syscall"

func helperSysProcAttr() *syscall.SysProcAttr { return nil }

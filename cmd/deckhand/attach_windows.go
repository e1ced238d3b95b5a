//go:build windows

package main

func watchResize(func()) (stop func()) { return func() {} }

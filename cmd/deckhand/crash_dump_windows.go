//go:build windows

package main

import "context"

func watchDumpSignal(ctx context.Context, dir string) {}

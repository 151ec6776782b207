//go:build !linux || !cgo

// dshield-preload needs cgo on Linux; elsewhere it builds to a no-op so
// that ./... still compiles.
package main

func main() {}

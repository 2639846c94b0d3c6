// Package main is the entry point for the mock dispatch engine.
package main

func main() {
	Execute()
}

// Package main is the entry point for conveyr.
package main

func main() {
	Execute()
}

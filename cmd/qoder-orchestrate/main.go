// Command qoder-orchestrate splits a development objective into tasks and
// drives a coding agent through them in dependency order.
package main

func main() {
	Execute()
}

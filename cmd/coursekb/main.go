package main

import "coursekb/internal/cli"

func main() {
	cli.Execute()
}

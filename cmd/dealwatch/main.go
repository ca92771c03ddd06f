package main

import "dealwatch/internal/cli"

func main() {
	cli.Execute()
}

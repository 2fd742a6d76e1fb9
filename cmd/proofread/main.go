package main

import "chronicle/proofread/internal/cli"

func main() {
	cli.Execute()
}

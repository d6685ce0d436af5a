package main

import (
	"fmt"
	"os"

	"pixi.build/dispatcher/go/cleanup"
)

func main() {
	err := newRootCmd().Execute()
	cleanup.Cleanup()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

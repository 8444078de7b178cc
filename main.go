package main

import (
	"fmt"

	"github.com/reactorlang/runtime/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}

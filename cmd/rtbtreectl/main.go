/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"github.com/ssargent/rtbtree/cmd/rtbtreectl/cmd"
)

func main() {
	cmd.Execute()
}

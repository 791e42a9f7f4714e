// Package main provides the scalebuild command-line build orchestration tool.
package main

import (
	"github.com/M0Rf30/yap/v2/cmd/scalebuild/command"
)

func main() {
	command.Execute()
}

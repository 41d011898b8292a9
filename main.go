package main

import (
	cmd "github.com/labmanager/labml/cmd/labml"
	"github.com/labmanager/labml/internal"
)

var log = internal.GetLogger()

func main() {
	log.Info("Starting labml")
	cmd.Execute()
}

package main

import (
	"github.com/miethe/skillmeat-sub006/cmd"
)

func main() {
	cmd.Execute()
}

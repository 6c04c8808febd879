// Package main is the capture-service entry point (HTTP + MQTT + recording).
package main

import (
	"log"

	"github.com/yulithalta/lisa-research-platform-sub000/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

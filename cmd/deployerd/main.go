package main

import (
	"log"

	deployerd "griddeployer/services/deployerd"
)

func main() {
	if err := deployerd.Main(); err != nil {
		log.Fatalf("deployerd: %v", err)
	}
}

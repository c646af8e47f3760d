// Package main is a module which serves the pedestrian-counter vision model.
package main

import (
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"

	"go.viam.com/rdk/module"

	"github.com/viam-modules/pedestrian-counter/pedcounter"
)

func main() {
	module.ModularMain(resource.APIModel{API: vision.API, Model: pedcounter.Model})
}

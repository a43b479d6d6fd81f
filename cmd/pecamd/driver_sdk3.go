//go:build sdk3

package main

import (
	"github.com/nasa-jpl/pecam/andor/sdk3"
	"github.com/nasa-jpl/pecam/camera"
)

func init() {
	drivers["sdk3"] = func(c config) (camera.Opener, error) {
		return sdk3.Opener(c.CameraIndex), nil
	}
}

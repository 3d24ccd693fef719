// Binary fwemu assembles flash images and patches kernels so that firmware
// of embedded devices can run in an emulator.
package main

import (
	"github.com/fwemu/tools/internal/fwemu"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := fwemu.RootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

// Fake SGX hardware emulator command line utility.
package main

import (
	"github.com/ahawad/asylo/fake-sgx/cmd"
)

func main() {
	cmd.Execute()
}

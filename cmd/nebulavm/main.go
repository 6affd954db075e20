package main

import (
	"os"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

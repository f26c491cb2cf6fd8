// Command bankctl operates a lease-guarded object bank from the shell.
package main

import (
	"context"

	"github.com/nimburion/objectbank/pkg/cli"
)

func main() {
	cmd := cli.NewBankCommand(cli.Options{
		Name:        "bankctl",
		Description: "Lease-guarded persistent object bank",
		ConfigPath:  "",
		EnvPrefix:   "BANK",
	})
	cli.Execute(context.Background(), cmd)
}

// Command iedctl is the command-line client for the Substation Core IED
// registry. It talks to the REST API; hash-password runs offline.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/paularlott/cli"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cli.Command{
		Name:        "iedctl",
		Version:     version + " (" + commit + ")",
		Usage:       "IED registry CLI",
		Description: "Manage the IEC 61850 devices registered with Substation Core",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "server",
				Aliases:      []string{"s"},
				Usage:        "Server URL",
				DefaultValue: "http://localhost:8080",
				EnvVars:      []string{"SUBSTATION_URL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token from iedctl login",
				EnvVars: []string{"SUBSTATION_TOKEN"},
				Global:  true,
			},
			&cli.BoolFlag{
				Name:   "json",
				Usage:  "Print raw JSON instead of tables",
				Global: true,
			},
		},
		Commands: []*cli.Command{
			listCommand(),
			searchCommand(),
			getCommand(),
			addCommand(),
			updateCommand(),
			removeCommand(),
			transitionCommand(),
			refreshCommand(),
			protocolCommand(),
			datasetsCommand(),
			exportCommand(),
			importCommand(),
			logsCommand(),
			loginCommand(),
			hashPasswordCommand(),
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// clientFor builds an API client from the global flags.
func clientFor(cmd *cli.Command) *apiClient {
	return newAPIClient(cmd.GetString("server"), cmd.GetString("token"))
}

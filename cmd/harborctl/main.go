package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/harborgrid/harbormaster/httpserver"
)

var serverFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "control API base URL",
	EnvVars: []string{"HARBORMASTER_SERVER"},
}
var tokenFlag = &cli.StringFlag{
	Name:    "token",
	Value:   "",
	Usage:   "bearer token for the control API",
	EnvVars: []string{"HARBORMASTER_TOKEN"},
}

var serviceFlag = &cli.StringFlag{
	Name:     "service",
	Required: true,
	Usage:    "protocol service kind to run",
}
var serverKindFlag = &cli.StringFlag{
	Name:  "server-kind",
	Usage: "runner kind, empty for the standard TCP accept loop",
}
var addressFlag = &cli.StringFlag{
	Name:  "address",
	Usage: "address to bind, empty for all interfaces",
}
var portFlag = &cli.IntFlag{
	Name:     "port",
	Required: true,
	Usage:    "port to bind",
}
var certificateFlag = &cli.StringFlag{
	Name:  "certificate",
	Usage: "certificate reference URI enabling TLS",
}
var encodingFlag = &cli.StringFlag{
	Name:  "encoding",
	Usage: "session text encoding, empty for UTF-8",
}
var maxSessionsFlag = &cli.IntFlag{
	Name:  "max-sessions",
	Usage: "cap on concurrent sessions",
}
var idleTimeoutFlag = &cli.StringFlag{
	Name:  "idle-timeout",
	Usage: "idle timeout as a Go duration, e.g. 90s",
}

func main() {
	app := &cli.App{
		Name:  "harborctl",
		Usage: "Inspect and manage harbormaster servers",
		Flags: []cli.Flag{
			serverFlag,
			tokenFlag,
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list live servers",
				Action: func(cCtx *cli.Context) error {
					servers, err := newClient(cCtx).ListServers(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(servers)
				},
			},
			{
				Name:  "create",
				Usage: "provision a new server",
				Flags: []cli.Flag{
					serviceFlag,
					serverKindFlag,
					addressFlag,
					portFlag,
					certificateFlag,
					encodingFlag,
					maxSessionsFlag,
					idleTimeoutFlag,
				},
				Action: func(cCtx *cli.Context) error {
					req := httpserver.CreateServerRequest{
						Service:     cCtx.String(serviceFlag.Name),
						Server:      cCtx.String(serverKindFlag.Name),
						Address:     cCtx.String(addressFlag.Name),
						Port:        cCtx.Int(portFlag.Name),
						Certificate: cCtx.String(certificateFlag.Name),
						Encoding:    cCtx.String(encodingFlag.Name),
					}
					if cCtx.IsSet(maxSessionsFlag.Name) || cCtx.IsSet(idleTimeoutFlag.Name) {
						opts := &httpserver.OptionsPayload{}
						if cCtx.IsSet(maxSessionsFlag.Name) {
							v := cCtx.Int(maxSessionsFlag.Name)
							opts.MaxSessions = &v
						}
						if cCtx.IsSet(idleTimeoutFlag.Name) {
							v := cCtx.String(idleTimeoutFlag.Name)
							opts.IdleTimeout = &v
						}
						req.Options = opts
					}

					info, err := newClient(cCtx).CreateServer(cCtx.Context, req)
					if err != nil {
						return err
					}
					return printJSON(info)
				},
			},
			{
				Name:      "get",
				Usage:     "fetch one server",
				ArgsUsage: "<server_id>",
				Action: func(cCtx *cli.Context) error {
					id, err := serverIDArg(cCtx)
					if err != nil {
						return err
					}
					info, err := newClient(cCtx).GetServer(cCtx.Context, id)
					if err != nil {
						return err
					}
					return printJSON(info)
				},
			},
			{
				Name:      "stop",
				Usage:     "stop a server and await its teardown",
				ArgsUsage: "<server_id>",
				Action: func(cCtx *cli.Context) error {
					id, err := serverIDArg(cCtx)
					if err != nil {
						return err
					}
					if err := newClient(cCtx).StopServer(cCtx.Context, id); err != nil {
						return err
					}
					fmt.Println("stopped", id)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *httpserver.Client {
	return httpserver.NewClient(cCtx.String(serverFlag.Name), cCtx.String(tokenFlag.Name))
}

func serverIDArg(cCtx *cli.Context) (string, error) {
	id := cCtx.Args().First()
	if id == "" {
		return "", errors.New("server id argument is required")
	}
	return id, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

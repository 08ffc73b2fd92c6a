package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/paularlott/cli"
	"golang.org/x/term"

	"github.com/nerrad567/substation-core/internal/auth"
	"github.com/nerrad567/substation-core/internal/eventlog"
	"github.com/nerrad567/substation-core/internal/ied"
)

// deviceList mirrors the body of GET /devices.
type deviceList struct {
	Devices []ied.Device `json:"devices"`
	Total   int          `json:"total"`
	Count   int          `json:"count"`
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List devices",
		Description: "List registered devices in insertion order",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, connected, disconnected, all)"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum devices to return"},
			&cli.IntFlag{Name: "offset", Usage: "Devices to skip"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			return runSearch(ctx, cmd, "")
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:        "search",
		Usage:       "Search devices",
		Description: "Search devices by name, type, model or IP (case-insensitive)",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "term", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, connected, disconnected, all)"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum devices to return"},
			&cli.IntFlag{Name: "offset", Usage: "Devices to skip"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			return runSearch(ctx, cmd, cmd.GetStringArg("term"))
		},
	}
}

func runSearch(ctx context.Context, cmd *cli.Command, term string) error {
	q := url.Values{}
	if term != "" {
		q.Set("q", term)
	}
	if s := cmd.GetString("status"); s != "" {
		q.Set("status", s)
	}
	if n := cmd.GetInt("limit"); n > 0 {
		q.Set("limit", strconv.Itoa(n))
	}
	if n := cmd.GetInt("offset"); n > 0 {
		q.Set("offset", strconv.Itoa(n))
	}

	var res deviceList
	if err := clientFor(cmd).do(ctx, http.MethodGet, "/devices", q, nil, &res); err != nil {
		return err
	}
	if cmd.GetBool("json") {
		return printJSON(res)
	}
	printDevices(os.Stdout, res.Devices)
	if res.Count < res.Total {
		fmt.Printf("\n%d of %d devices\n", res.Count, res.Total)
	}
	return nil
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Usage:       "Show a device",
		Description: "Show a device with its logical devices, protocol settings and datasets",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var d ied.Device
			if err := clientFor(cmd).do(ctx, http.MethodGet, "/devices/"+cmd.GetStringArg("id"), nil, nil, &d); err != nil {
				return err
			}
			return printDeviceOrJSON(cmd, &d)
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:        "add",
		Usage:       "Register a device",
		Description: "Register a new device; omitted fields take their defaults",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Device name"},
			&cli.StringFlag{Name: "type", Usage: "Device type"},
			&cli.StringFlag{Name: "manufacturer", Usage: "Manufacturer"},
			&cli.StringFlag{Name: "model", Usage: "Model"},
			&cli.StringFlag{Name: "firmware", Usage: "Firmware version"},
			&cli.StringFlag{Name: "ip", Usage: "IPv4 address"},
			&cli.IntFlag{Name: "data-points", Usage: "Number of data points"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			nd := ied.NewDevice{
				Name:            cmd.GetString("name"),
				Type:            cmd.GetString("type"),
				Manufacturer:    cmd.GetString("manufacturer"),
				Model:           cmd.GetString("model"),
				FirmwareVersion: cmd.GetString("firmware"),
				IP:              cmd.GetString("ip"),
				DataPointCount:  cmd.GetInt("data-points"),
			}

			var d ied.Device
			if err := clientFor(cmd).do(ctx, http.MethodPost, "/devices", nil, nd, &d); err != nil {
				return err
			}
			if cmd.GetBool("json") {
				return printJSON(d)
			}
			fmt.Printf("Device registered: %s (ID: %s)\n", d.Name, d.ID)
			return nil
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:        "update",
		Usage:       "Update a device",
		Description: "Change descriptive fields of a device; only the given flags are applied",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Device name"},
			&cli.StringFlag{Name: "type", Usage: "Device type"},
			&cli.StringFlag{Name: "manufacturer", Usage: "Manufacturer"},
			&cli.StringFlag{Name: "model", Usage: "Model"},
			&cli.StringFlag{Name: "firmware", Usage: "Firmware version"},
			&cli.StringFlag{Name: "ip", Usage: "IPv4 address (\"none\" clears it)"},
			&cli.IntFlag{Name: "data-points", Usage: "Number of data points", DefaultValue: -1},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			u := buildUpdate(
				cmd.GetString("name"),
				cmd.GetString("type"),
				cmd.GetString("manufacturer"),
				cmd.GetString("model"),
				cmd.GetString("firmware"),
				cmd.GetString("ip"),
				cmd.GetInt("data-points"),
			)
			if u.IsEmpty() {
				return fmt.Errorf("nothing to update")
			}

			var d ied.Device
			if err := clientFor(cmd).do(ctx, http.MethodPatch, "/devices/"+cmd.GetStringArg("id"), nil, u, &d); err != nil {
				return err
			}
			if cmd.GetBool("json") {
				return printJSON(d)
			}
			fmt.Printf("Device updated: %s (config version %d)\n", d.ID, d.ConfigVersion)
			return nil
		},
	}
}

// buildUpdate turns flag values into a partial update. Empty strings and
// negative counts are left unset; the IP "none" clears the address.
func buildUpdate(name, typ, manufacturer, model, firmware, ip string, dataPoints int) ied.DeviceUpdate {
	var u ied.DeviceUpdate
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&u.Name, name)
	set(&u.Type, typ)
	set(&u.Manufacturer, manufacturer)
	set(&u.Model, model)
	set(&u.FirmwareVersion, firmware)
	if strings.EqualFold(ip, "none") {
		empty := ""
		u.IP = &empty
	} else {
		set(&u.IP, ip)
	}
	if dataPoints >= 0 {
		u.DataPointCount = &dataPoints
	}
	return u
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:        "remove",
		Usage:       "Remove a device",
		Description: "Remove a device; its log entries are kept",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.GetStringArg("id")
			if err := clientFor(cmd).do(ctx, http.MethodDelete, "/devices/"+id, nil, nil, nil); err != nil {
				return err
			}
			fmt.Printf("Device removed: %s\n", id)
			return nil
		},
	}
}

func transitionCommand() *cli.Command {
	return &cli.Command{
		Name:        "transition",
		Usage:       "Apply a connection event",
		Description: "Apply handshake_ok, heartbeat_ok, heartbeat_timeout, disconnect or reconnect to a device",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
			&cli.StringArg{Name: "event", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			body := map[string]string{"event": cmd.GetStringArg("event")}
			var d ied.Device
			if err := clientFor(cmd).do(ctx, http.MethodPost, "/devices/"+cmd.GetStringArg("id")+"/transitions", nil, body, &d); err != nil {
				return err
			}
			if cmd.GetBool("json") {
				return printJSON(d)
			}
			fmt.Printf("%s is %s\n", d.ID, d.Status)
			return nil
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:        "refresh",
		Usage:       "Refresh connected devices",
		Description: "Re-confirm the last-seen time of every connected device",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var res struct {
				Refreshed int `json:"refreshed"`
			}
			if err := clientFor(cmd).do(ctx, http.MethodPost, "/devices/refresh", nil, nil, &res); err != nil {
				return err
			}
			fmt.Printf("Data refreshed (%d devices)\n", res.Refreshed)
			return nil
		},
	}
}

func protocolCommand() *cli.Command {
	return &cli.Command{
		Name:        "protocol",
		Usage:       "Protocol configuration",
		Description: "Manage GOOSE and MMS settings",
		Commands: []*cli.Command{
			{
				Name:        "set",
				Usage:       "Replace protocol settings",
				Description: "Replace the GOOSE and MMS settings of a device; omit both GOOSE flags to disable GOOSE",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id", Required: true},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "goose-appid", Usage: "GOOSE APPID, e.g. 0x3001"},
					&cli.StringFlag{Name: "goose-mac", Usage: "GOOSE destination MAC, e.g. 01-0C-CD-01-00-01"},
					&cli.IntFlag{Name: "mms-port", Usage: "MMS port", DefaultValue: 102},
					&cli.StringFlag{Name: "mms-auth", Usage: "MMS auth mode (none, password, certificate)", DefaultValue: "none"},
				},
				Run: func(ctx context.Context, cmd *cli.Command) error {
					pc := ied.ProtocolConfig{
						GOOSE: ied.GOOSEConfig{
							AppID:      cmd.GetString("goose-appid"),
							MACAddress: cmd.GetString("goose-mac"),
						},
						MMS: ied.MMSConfig{
							Port:     cmd.GetInt("mms-port"),
							AuthMode: ied.AuthMode(cmd.GetString("mms-auth")),
						},
					}
					var d ied.Device
					if err := clientFor(cmd).do(ctx, http.MethodPut, "/devices/"+cmd.GetStringArg("id")+"/protocol", nil, pc, &d); err != nil {
						return err
					}
					if cmd.GetBool("json") {
						return printJSON(d)
					}
					fmt.Printf("Protocol settings saved (config version %d)\n", d.ConfigVersion)
					return nil
				},
			},
		},
	}
}

func datasetsCommand() *cli.Command {
	return &cli.Command{
		Name:        "datasets",
		Usage:       "Dataset management",
		Description: "List, add and remove the datasets of a device",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List datasets",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id", Required: true},
				},
				Run: func(ctx context.Context, cmd *cli.Command) error {
					var res struct {
						Datasets []ied.Dataset `json:"datasets"`
					}
					if err := clientFor(cmd).do(ctx, http.MethodGet, "/devices/"+cmd.GetStringArg("id")+"/datasets", nil, nil, &res); err != nil {
						return err
					}
					if cmd.GetBool("json") {
						return printJSON(res.Datasets)
					}
					printDatasets(os.Stdout, res.Datasets)
					return nil
				},
			},
			{
				Name:  "add",
				Usage: "Add a dataset",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id", Required: true},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Dataset name", Required: true},
					&cli.StringFlag{Name: "description", Usage: "Description"},
					&cli.IntFlag{Name: "points", Usage: "Number of data points"},
					&cli.StringFlag{Name: "protocol", Usage: "GOOSE or MMS", DefaultValue: "GOOSE"},
				},
				Run: func(ctx context.Context, cmd *cli.Command) error {
					ds := ied.Dataset{
						Name:        cmd.GetString("name"),
						Description: cmd.GetString("description"),
						PointCount:  cmd.GetInt("points"),
						Protocol:    ied.DatasetProtocol(strings.ToUpper(cmd.GetString("protocol"))),
					}
					if err := clientFor(cmd).do(ctx, http.MethodPost, "/devices/"+cmd.GetStringArg("id")+"/datasets", nil, ds, nil); err != nil {
						return err
					}
					fmt.Printf("Dataset added: %s\n", ds.Name)
					return nil
				},
			},
			{
				Name:  "remove",
				Usage: "Remove a dataset",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id", Required: true},
					&cli.StringArg{Name: "name", Required: true},
				},
				Run: func(ctx context.Context, cmd *cli.Command) error {
					path := "/devices/" + cmd.GetStringArg("id") + "/datasets/" + url.PathEscape(cmd.GetStringArg("name"))
					if err := clientFor(cmd).do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
						return err
					}
					fmt.Printf("Dataset removed: %s\n", cmd.GetStringArg("name"))
					return nil
				},
			},
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:        "export",
		Usage:       "Export a device configuration",
		Description: "Write the device's configuration snapshot as JSON to stdout or a file",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			raw, err := clientFor(cmd).doRaw(ctx, http.MethodGet, "/devices/"+cmd.GetStringArg("id")+"/config", nil, nil)
			if err != nil {
				return err
			}
			out := cmd.GetString("out")
			if out == "" {
				_, err = os.Stdout.Write(append(raw, '\n'))
				return err
			}
			if err := os.WriteFile(out, raw, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Printf("Configuration written to %s\n", out)
			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:        "import",
		Usage:       "Import a device configuration",
		Description: "Apply a configuration snapshot file to a device; the device keeps its ID and status",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
			&cli.StringArg{Name: "file", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.GetStringArg("file")
			data, err := os.ReadFile(path) //nolint:gosec // Operator-supplied path
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			// Validate locally first for a clearer error.
			if _, err := ied.ParseSnapshot(data); err != nil {
				return err
			}

			var d ied.Device
			if err := clientFor(cmd).do(ctx, http.MethodPut, "/devices/"+cmd.GetStringArg("id")+"/config", nil, data, &d); err != nil {
				return err
			}
			fmt.Printf("Configuration imported into %s (config version %d)\n", d.ID, d.ConfigVersion)
			return nil
		},
	}
}

func logsCommand() *cli.Command {
	return &cli.Command{
		Name:        "logs",
		Usage:       "Query the event log",
		Description: "Show event log entries, oldest first unless --desc is given",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "severity", Usage: "Comma separated severities (info,warning,error)"},
			&cli.StringFlag{Name: "device", Usage: "Only entries for this device ID"},
			&cli.StringFlag{Name: "since", Usage: "RFC 3339 lower bound"},
			&cli.StringFlag{Name: "until", Usage: "RFC 3339 upper bound"},
			&cli.BoolFlag{Name: "desc", Usage: "Newest first"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum entries", DefaultValue: 100},
			&cli.IntFlag{Name: "offset", Usage: "Entries to skip"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			q := url.Values{}
			for flag, param := range map[string]string{
				"severity": "severity",
				"device":   "device_id",
				"since":    "since",
				"until":    "until",
			} {
				if v := cmd.GetString(flag); v != "" {
					q.Set(param, v)
				}
			}
			if cmd.GetBool("desc") {
				q.Set("order", "desc")
			}
			if n := cmd.GetInt("limit"); n > 0 {
				q.Set("limit", strconv.Itoa(n))
			}
			if n := cmd.GetInt("offset"); n > 0 {
				q.Set("offset", strconv.Itoa(n))
			}

			var res struct {
				Entries []eventlog.Entry `json:"entries"`
			}
			if err := clientFor(cmd).do(ctx, http.MethodGet, "/logs", q, nil, &res); err != nil {
				return err
			}
			if cmd.GetBool("json") {
				return printJSON(res.Entries)
			}
			printEntries(os.Stdout, res.Entries)
			return nil
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:        "login",
		Usage:       "Obtain an access token",
		Description: "Authenticate and print a bearer token for SUBSTATION_TOKEN",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Username", Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Password (prompted when omitted)", EnvVars: []string{"SUBSTATION_PASSWORD"}},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			password, err := passwordOrPrompt(cmd.GetString("password"), "Password: ")
			if err != nil {
				return err
			}
			body := map[string]string{
				"username": cmd.GetString("username"),
				"password": password,
			}
			var res struct {
				AccessToken string `json:"access_token"`
				ExpiresIn   int    `json:"expires_in"`
				Role        string `json:"role"`
			}
			if err := clientFor(cmd).do(ctx, http.MethodPost, "/auth/login", nil, body, &res); err != nil {
				return err
			}
			if cmd.GetBool("json") {
				return printJSON(res)
			}
			fmt.Println(res.AccessToken)
			fmt.Fprintf(os.Stderr, "role %s, expires in %ds\n", res.Role, res.ExpiresIn)
			return nil
		},
	}
}

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:        "hash-password",
		Usage:       "Hash a password for config.yaml",
		Description: "Print the Argon2id hash to paste into security.users[].password_hash",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "password"},
		},
		Run: func(_ context.Context, cmd *cli.Command) error {
			password, err := passwordOrPrompt(cmd.GetStringArg("password"), "New password: ")
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

// passwordOrPrompt returns given, or reads a password from the terminal
// without echo. Piped input is not prompted for.
func passwordOrPrompt(given, prompt string) (string, error) {
	if given != "" {
		return given, nil
	}
	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return "", errors.New("password is required")
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(raw) == 0 {
		return "", errors.New("password is required")
	}
	return string(raw), nil
}

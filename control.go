package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// controlTimeout bounds the round trip to the local server.
const controlTimeout = 10 * time.Second

func newControlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "control <pause|resume|cancel>",
		Short:     "Pause, resume, or cancel the running sync",
		Long:      `Send a control action to the sync run in the serve process. The action takes effect at the next record boundary.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"pause", "resume", "cancel"},
		RunE: func(cmd *cobra.Command, args []string) error {
			syncID, _ := cmd.Flags().GetString("sync-id")
			server, _ := cmd.Flags().GetString("server")

			return runControl(args[0], syncID, server)
		},
	}

	cmd.Flags().String("sync-id", "", "target a specific run (defaults to the active one)")
	cmd.Flags().String("server", "", "server base URL (defaults to the configured listen address)")

	return cmd
}

// apiEnvelope mirrors the server's response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func runControl(action, syncID, server string) error {
	if server == "" {
		server = serverBaseURL(resolvedCfg.Server.ListenAddr)
	}

	body, err := json.Marshal(map[string]string{
		"action": action,
		"syncId": syncID,
	})
	if err != nil {
		return fmt.Errorf("encoding control request: %w", err)
	}

	client := &http.Client{Timeout: controlTimeout}

	resp, err := client.Post(server+"/sync/control", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("is serve running? %w", err)
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding server response: %w", err)
	}

	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}

		return fmt.Errorf("control %s failed with status %d", action, resp.StatusCode)
	}

	if flagJSON {
		return printJSON(envelope)
	}

	if envelope.Message != "" {
		fmt.Println(envelope.Message)
	} else {
		fmt.Printf("Sync %s acknowledged.\n", action)
	}

	return nil
}

// serverBaseURL turns a listen address like ":8080" or "0.0.0.0:8080" into
// a loopback base URL.
func serverBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://127.0.0.1:8080"
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return "http://" + net.JoinHostPort(host, port)
}

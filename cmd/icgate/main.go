package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/icgate/internal/client"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/ui"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	authToken  string
	jsonOutput bool
	noColor    bool
	actor      string
	actorRole  string

	icClient client.Client
)

func defaultActor() string {
	if s := os.Getenv("ICGATE_ACTOR"); s != "" {
		return s
	}
	if a := activeRemote().Actor; a != "" {
		return a
	}
	out, err := exec.Command("git", "config", "user.email").Output()
	if err == nil {
		if name := strings.TrimSpace(string(out)); name != "" {
			return name
		}
	}
	return "unknown"
}

func defaultHTTPURL() string {
	if s := os.Getenv("ICGATE_HTTP_URL"); s != "" {
		return s
	}
	if u := activeRemote().URL; u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultServer() string {
	if s := os.Getenv("ICGATE_SERVER"); s != "" {
		return s
	}
	if a := activeRemote().GRPCAddr; a != "" {
		return a
	}
	return "localhost:9090"
}

func defaultRole() string {
	if s := os.Getenv("ICGATE_ROLE"); s != "" {
		return s
	}
	return activeRemote().Role
}

func defaultTransport() string {
	if t := activeRemote().Transport; t != "" {
		return t
	}
	return "http"
}

func defaultToken() string {
	if s := os.Getenv("ICGATE_TOKEN"); s != "" {
		return s
	}
	return activeRemote().Token
}

// who is the actor attached to every command.
func who() client.Actor {
	return client.Actor{Actor: actor, ActorRole: actorRole}
}

func noClient(*cobra.Command, []string) error { return nil }

var rootCmd = &cobra.Command{
	Use:           "icgate <command>",
	Short:         "Investment committee gate workflow",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		switch transport {
		case "http":
			icClient = client.NewHTTPClient(httpURL, authToken)
		case "grpc":
			c, err := client.NewGRPCClient(serverAddr, authToken)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			icClient = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if icClient != nil {
			_ = icClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", defaultTransport(), "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "acting identity recorded in the audit log")
	rootCmd.PersistentFlags().StringVar(&actorRole, "role", defaultRole(), "role of the acting identity")

	rootCmd.AddGroup(
		&cobra.Group{ID: "deals", Title: "Deals:"},
		&cobra.Group{ID: "gates", Title: "Gates:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Deals
	rootCmd.AddCommand(dealCmd)
	rootCmd.AddCommand(stateCmd)

	// Gates
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(advanceCmd)

	// Views
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(catalogCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps workflow rejections to distinct exit statuses so scripts
// can tell a retriable outage from a business rule.
func exitCode(err error) int {
	var we *model.WorkflowError
	if !errors.As(err, &we) {
		return 1
	}
	switch we.Class() {
	case model.ClassStorage:
		return 75 // EX_TEMPFAIL
	case model.ClassInput:
		return 64 // EX_USAGE
	default:
		return 3
	}
}

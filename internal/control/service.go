package control

import (
	"fmt"
	"os"
	"strings"

	"livecap/internal/config"
	"livecap/internal/service"

	"github.com/spf13/cobra"
)

// NewServiceCmd manages the per-user service definition.
func NewServiceCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove the user service (launchd or systemd)",
	}
	cmd.AddCommand(newServiceInstallCmd(cfgPath), newServiceUninstallCmd(), newServiceStatusCmd())
	return cmd
}

func newServiceInstallCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write the user service definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			envPairs, _ := cmd.Flags().GetStringArray("env")
			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}
			path, err := service.Write(service.Params{
				Label:  service.Label,
				Binary: exe,
				Config: cfg.Paths.ConfigPath,
				Log:    cfg.Paths.LogPath,
				Env:    env,
			})
			if err != nil {
				return err
			}
			cmd.Printf("%s definition written: %s\n", service.Kind(), path)
			for _, h := range service.Hints(service.Label, path) {
				cmd.Println(h)
			}
			return nil
		},
	}
	cmd.Flags().StringArray("env", nil, "Env to set in the service (KEY=VAL)")
	return cmd
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad env %q, want KEY=VAL", p)
		}
		env[k] = v
	}
	return env, nil
}

func newServiceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := service.Remove(service.Label)
			if err != nil {
				return err
			}
			cmd.Printf("removed %s (if present); stop the running service manually\n", path)
			return nil
		},
	}
}

func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the service definition path and whether it exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, ok := service.Status(service.Label)
			cmd.Printf("%s: %s\n", service.Kind(), path)
			if ok {
				cmd.Println("status: present")
			} else {
				cmd.Println("status: missing (install via: livecap service install)")
			}
			return nil
		},
	}
}

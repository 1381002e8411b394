package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sweeney/homegraph/internal/config"
	"github.com/sweeney/homegraph/internal/control"
	"github.com/sweeney/homegraph/internal/graph"
)

const defaultConfigPath = "/etc/homegraph.yaml"

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "homegraph",
		Short:         "Event-driven home automation node graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file (YAML or JSON)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newRoutesCommand(opts))
	return cmd
}

type runOptions struct {
	simulate bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the graph",
		Long: `Load the config, claim the GPIO lines and run the graph until SIGINT or
SIGTERM. Flags override the matching daemon settings in the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &f.Daemon)
			return run(f, opts.simulate)
		},
	}

	fl := cmd.Flags()
	fl.String("http", config.DefaultHTTP, "HTTP control and status address (empty to disable)")
	fl.String("broker", "", "MQTT broker address (empty to disable)")
	fl.String("ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	fl.Duration("heartbeat", config.DefaultHeartbeat, "Heartbeat interval (0 to disable)")
	fl.String("gpio-chip", config.DefaultGPIOChip, "GPIO character device")
	fl.BoolVar(&opts.simulate, "simulate", false, "Use simulated GPIO and one-wire hardware")
	return cmd
}

// applyFlags copies the flags the user set over the file's settings.
func applyFlags(cmd *cobra.Command, d *config.Daemon) {
	fl := cmd.Flags()
	if fl.Changed("http") {
		d.HTTP, _ = fl.GetString("http")
	}
	if fl.Changed("broker") {
		d.Broker, _ = fl.GetString("broker")
	}
	if fl.Changed("heartbeat") {
		d.Heartbeat, _ = fl.GetDuration("heartbeat")
	}
	if fl.Changed("gpio-chip") {
		d.GPIOChip, _ = fl.GetString("gpio-chip")
	}
	if fl.Changed("ws-broker") || d.WSBroker == "" {
		d.WSBroker, _ = fl.GetString("ws-broker")
	}
	d.WSBroker = resolveWSBroker(d.WSBroker, d.Broker)
}

func newValidateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file without touching hardware",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := load(root.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d nodes\n", root.configPath, r.Len())
			return nil
		},
	}
}

func newRoutesCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the control routes the config registers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := load(root.configPath)
			if err != nil {
				return err
			}
			m := control.NewMux()
			if err := r.RegisterControls(m); err != nil {
				return err
			}
			printRoutes(cmd.OutOrStdout(), m)
			return nil
		},
	}
}

// load reads path and builds the graph without activating it.
func load(path string) (*graph.Registry, error) {
	f, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	r := graph.NewRegistry(graph.Env{})
	if err := r.Build(f.Nodes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func printRoutes(w io.Writer, m *control.Mux) {
	for _, r := range m.Routes() {
		fmt.Fprintf(w, "/%s\n", r)
	}
}

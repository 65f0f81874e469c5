package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kpfgw/internal/config"
	"kpfgw/internal/kube"
	"kpfgw/internal/registry"
	"kpfgw/internal/resource"
	"kpfgw/internal/session"
	"kpfgw/internal/tui"
	"kpfgw/pkg/logging"
)

var (
	configPath          string
	kubeContext         string
	namespace           string
	localPort           uint16
	probePath           string
	probeTimeoutSeconds uint64
	verbosity           int
	requestLogPath      string
	requestLogVerbosity int
	noTUI               bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kpfgw [kind/name:port]",
	Short: "Stable local HTTP gateways to Kubernetes resources",
	Long: `kpfgw exposes a fixed local HTTP endpoint per Kubernetes resource and
keeps it reachable across kubectl port-forward restarts. The underlying
tunnel process is monitored, probed and transparently respawned; while it
is down, clients get a clean 503 instead of a vanished socket.

A single forward is given as a positional locator ("pod/web:8080",
"service/db:5432"). Multiple forwards come from a configuration document
passed via --config.`,
	Args: cobra.MaximumNArgs(1),
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid locators, failed connections)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kpfgw version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.RunE = runRoot
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.Flags().StringVar(&configPath, "config", "", "configuration document with multiple forwards (JSON or YAML)")
	rootCmd.Flags().StringVar(&kubeContext, "kube-context", "", "kubeconfig context to use (default: current context)")
	rootCmd.Flags().StringVarP(&namespace, "namespace", "n", "default", "namespace of the forwarded resource")
	rootCmd.Flags().Uint16VarP(&localPort, "local-port", "l", 0, "client-facing port (default: the resource's remote port)")
	rootCmd.Flags().StringVar(&probePath, "liveness-probe", "", "HTTP path probed through the tunnel; enables health gating")
	rootCmd.Flags().Uint64VarP(&probeTimeoutSeconds, "timeout", "t", 0, "per-probe timeout in seconds")
	rootCmd.Flags().IntVarP(&verbosity, "verbose", "v", 0, "verbosity 0-3; 2+ logs request bodies, 3 logs response bodies")
	rootCmd.Flags().StringVar(&requestLogPath, "requests-log-file", "", "append per-request diagnostics to this file")
	rootCmd.Flags().IntVar(&requestLogVerbosity, "requests-log-verbosity", 0, "verbosity for the diagnostics file, 0-3")
	rootCmd.Flags().BoolVar(&noTUI, "no-tui", false, "log to the console instead of the dashboard")
}

func runRoot(cmd *cobra.Command, args []string) error {
	configs, err := buildSessionConfigs(args, cmd.Flags().Changed("verbose"))
	if err != nil {
		return err
	}

	client, err := kube.NewClient(kubeContext)
	if err != nil {
		return fmt.Errorf("connecting to cluster: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := logging.LevelFromVerbosity(verbosity)
	reg := registry.New()

	if noTUI {
		log := logging.New(logging.NewConsoleSink(os.Stderr, level))
		orch := session.NewOrchestrator(client, reg, log, rootCmd.Version)
		return orch.Run(ctx, configs)
	}

	// Dashboard mode: log entries feed the TUI instead of the console. The
	// dashboard always sees Info and up, the verbosity flag only adds Debug.
	if level > logging.LevelInfo {
		level = logging.LevelInfo
	}
	sink := logging.NewChannelSink(level, 0)
	log := logging.New(sink)
	orch := session.NewOrchestrator(client, reg, log, rootCmd.Version)

	orchCtx, stopOrch := context.WithCancel(ctx)
	defer stopOrch()
	tuiCtx, stopTUI := context.WithCancel(ctx)
	defer stopTUI()

	orchDone := make(chan error, 1)
	go func() {
		err := orch.Run(orchCtx, configs)
		orchDone <- err
		// All sessions finished (or gave up): bring the dashboard down too.
		stopTUI()
	}()

	tuiErr := tui.Run(tuiCtx, reg, sink.Entries(), rootCmd.Version)
	stopOrch()
	return errors.Join(<-orchDone, tuiErr)
}

// buildSessionConfigs resolves the positional locator or the --config
// document into the session list. An explicit --verbose flag beats the
// document's verbose field; the field only fills in when the flag is absent.
func buildSessionConfigs(args []string, verboseFlagSet bool) ([]session.Config, error) {
	if configPath == "" && len(args) == 0 {
		return nil, errors.New("either a resource locator or --config is required")
	}
	if configPath != "" && len(args) > 0 {
		return nil, errors.New("a resource locator and --config are mutually exclusive")
	}

	if configPath != "" {
		file, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if file.Verbose != nil && !verboseFlagSet {
			verbosity = *file.Verbose
		}
		log := logging.New(logging.NewConsoleSink(os.Stderr, logging.LevelWarn))
		return config.BuildSessions(file, config.Defaults{
			Namespace:           namespace,
			Verbosity:           verbosity,
			RequestLogPath:      requestLogPath,
			RequestLogVerbosity: requestLogVerbosity,
		}, log)
	}

	desc, err := resource.Parse(args[0])
	if err != nil {
		return nil, err
	}
	if !desc.Supported() {
		return nil, &kube.UnsupportedKindError{Kind: desc.Kind}
	}

	port := localPort
	if port == 0 {
		port = desc.RemotePort
	}
	return []session.Config{{
		Descriptor:          desc,
		Namespace:           namespace,
		LocalPort:           port,
		ProbePath:           probePath,
		ProbeTimeout:        time.Duration(probeTimeoutSeconds) * time.Second,
		Verbosity:           verbosity,
		RequestLogPath:      requestLogPath,
		RequestLogVerbosity: requestLogVerbosity,
	}}, nil
}

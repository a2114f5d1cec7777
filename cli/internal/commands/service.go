package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// samplerService implements service.Interface for background sampling
type samplerService struct {
	cancel context.CancelFunc
	done   chan error
	logger service.Logger

	run  func(context.Context) error
	exit func(int)
}

func newSamplerService() *samplerService {
	return &samplerService{run: runSampler, exit: os.Exit}
}

// Start launches the sampler. If it stops on its own the process exits
// non-zero so the service manager restarts it.
func (s *samplerService) Start(svc service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		err := s.run(ctx)
		s.done <- err
		if err == nil || ctx.Err() != nil {
			return
		}
		if s.logger != nil {
			s.logger.Errorf("Sampler stopped: %v", err)
		}
		s.exit(1)
	}()
	return nil
}

func (s *samplerService) Stop(svc service.Service) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

func init() {
	serviceCmd.AddCommand(
		serviceAction("install", "Install and start the background sampler", func(s service.Service, cmd *cobra.Command) error {
			if err := s.Install(); err != nil {
				return fmt.Errorf("install service: %w", err)
			}
			if err := s.Start(); err != nil {
				return fmt.Errorf("service installed but failed to start: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Service installed and started.")
			fmt.Fprintf(cmd.OutOrStdout(), "Sampling interval: %s\n", state.cfg.Interval())
			return nil
		}),
		serviceAction("start", "Start the background sampler", func(s service.Service, cmd *cobra.Command) error {
			if err := s.Start(); err != nil {
				return fmt.Errorf("start service: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Service started.")
			return nil
		}),
		serviceAction("stop", "Stop the background sampler", func(s service.Service, cmd *cobra.Command) error {
			if err := s.Stop(); err != nil {
				return fmt.Errorf("stop service: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Service stopped.")
			return nil
		}),
		serviceAction("uninstall", "Remove the background sampler", func(s service.Service, cmd *cobra.Command) error {
			_ = s.Stop() // may already be stopped
			if err := s.Uninstall(); err != nil {
				return fmt.Errorf("uninstall service: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Service uninstalled.")
			return nil
		}),
		serviceAction("status", "Show background sampler status", func(s service.Service, cmd *cobra.Command) error {
			status, err := s.Status()
			out := cmd.OutOrStdout()
			if err != nil {
				fmt.Fprintf(out, "Service status: not installed or error (%v)\n", err)
				return nil
			}
			switch status {
			case service.StatusRunning:
				fmt.Fprintln(out, "Service status: running")
			case service.StatusStopped:
				fmt.Fprintln(out, "Service status: stopped")
			default:
				fmt.Fprintln(out, "Service status: unknown")
			}
			return nil
		}),
		serviceRunCmd,
	)
	rootCmd.AddCommand(serviceCmd)
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the sampler as an OS background service",
}

// serviceRunCmd is what the service manager invokes
var serviceRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run under the service manager",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newSamplerService()
		s, err := newService(svc)
		if err != nil {
			return err
		}
		if logger, err := s.Logger(nil); err == nil {
			svc.logger = logger
		}
		return s.Run()
	},
}

func serviceAction(use, short string, fn func(service.Service, *cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService(newSamplerService())
			if err != nil {
				return err
			}
			return fn(s, cmd)
		},
	}
}

func newService(svc *samplerService) (service.Service, error) {
	args := []string{"service", "run"}
	if state.configPath != "" {
		args = append(args, "--config", state.configPath)
	}
	args = append(args, "--db", state.cfg.DBPath)

	s, err := service.New(svc, &service.Config{
		Name:        "clawtop-sampler",
		DisplayName: "clawtop Sampler",
		Description: "Records OpenClaw token and network usage samples",
		Arguments:   args,
	})
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return s, nil
}

// Sorasig CLI entry point.
//
// Joins a Sora channel as a publisher (upstream) or subscriber (downstream)
// and keeps the session up until Ctrl+C or until the server ends it.
//
// It can be launched interactively (missing url or channel id are prompted
// for) or non-interactively via flags, a sorasig.yaml file or SORASIG_*
// environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/sorasig/internal/capture"
	"github.com/1ureka/sorasig/internal/config"
	"github.com/1ureka/sorasig/internal/conn"
	"github.com/1ureka/sorasig/internal/engine"
	"github.com/1ureka/sorasig/internal/eventlog"
	"github.com/1ureka/sorasig/internal/session"
	"github.com/1ureka/sorasig/internal/signaling"
	"github.com/1ureka/sorasig/internal/transport"
	"github.com/1ureka/sorasig/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		util.LogError("%v", err)
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Sorasig — v%s", version))
	pterm.Println()

	if cfg.URL == "" || cfg.ChannelID == "" {
		askMissing(cfg, !fs.Changed("role"))
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// run connects, waits for Ctrl+C or a server-side disconnect, then tears the
// session down.
func run(ctx context.Context, cfg *config.Config) error {
	events, closeTrace, err := openEventLog(cfg)
	if err != nil {
		return err
	}
	defer closeTrace()

	eng, err := engine.New()
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	s := session.New(session.Options{
		Config:       cfg.ConnConfig(),
		NewTransport: transport.Factory(transport.Options{PingPeriod: cfg.PingPeriod}),
		Engine:       eng,
		Capturer:     capture.NewManager(),
		Events:       events,
	})
	defer s.Release()

	ended := make(chan error, 1)
	watch(s, ended)

	util.StartStatsReporter(ctx, 0)
	util.LogInfo("connecting to %s (channel %s, %s)", cfg.URL, cfg.ChannelID, cfg.Role)

	if err := s.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	util.LogSuccess("connected, client id %s", s.ClientID())

	select {
	case <-ctx.Done():
	case err := <-ended:
		if err != nil {
			return fmt.Errorf("disconnected: %w", err)
		}
		return nil
	}

	dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Disconnect(dctx); err != nil && !errors.Is(err, conn.ErrAlreadyDisconnected) {
		return fmt.Errorf("failed to disconnect cleanly: %w", err)
	}
	return nil
}

// watch logs session events and reports the end of the session on ended.
func watch(s *session.Session, ended chan<- error) {
	s.OnConnectStateChange(func(st session.State) {
		util.LogDebug("session state: %s", st)
	})
	s.OnFailure(func(err error) {
		var ue *conn.UpdateError
		if errors.As(err, &ue) {
			util.LogWarning("renegotiation failed, connection kept: %v", err)
			return
		}
		util.LogError("session failed: %v", err)
	})
	s.OnDisconnect(func(err error) {
		select {
		case ended <- err:
		default:
		}
	})
	s.OnStreamAdded(func(st conn.Stream) {
		util.LogSuccess("remote stream %s added", st.ID())
	})
	s.OnStreamRemoved(func(st conn.Stream) {
		util.LogInfo("remote stream %s removed", st.ID())
	})
	s.OnNotify(func(n conn.Notification) {
		if n.Kind == conn.NotificationDisconnectedUpstream {
			util.LogWarning("upstream left the channel")
			return
		}
		util.LogInfo("notify: %s", n.Message)
	})
	s.OnStatistics(func(st conn.Statistics) {
		util.LogInfo("channel: %d connections (%d up, %d down)",
			st.ChannelConnections, st.UpstreamConnections, st.DownstreamConnections)
	})
}

// openEventLog creates the session event log, tracing it to cfg.EventLog
// when set. In debug mode every event is also logged.
func openEventLog(cfg *config.Config) (*eventlog.Log, func(), error) {
	events := eventlog.New(0)
	if cfg.Debug {
		events.OnMark(func(e eventlog.Event) { util.LogTrace("%s", e) })
	}
	if cfg.EventLog == "" {
		return events, func() {}, nil
	}

	f, err := os.OpenFile(cfg.EventLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event log: %w", err)
	}
	events.SetTrace(f)
	return events, func() {
		events.SetTrace(nil)
		f.Close()
	}, nil
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askMissing prompts for the settings needed to connect, and for the role
// unless it was given on the command line.
func askMissing(cfg *config.Config, askRole bool) {
	for cfg.URL == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Signaling URL (e.g. wss://sora.example.com/signaling)").
			Show()
		pterm.Println()

		raw = strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "ws://") || strings.HasPrefix(raw, "wss://") {
			cfg.URL = raw
			break
		}
		util.LogWarning("invalid input: the URL must start with ws:// or wss://")
	}

	for strings.TrimSpace(cfg.ChannelID) == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Channel ID").
			Show()
		pterm.Println()
		cfg.ChannelID = strings.TrimSpace(raw)
	}
	if !askRole {
		return
	}

	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Downstream — Subscribe to the channel", "Upstream   — Publish to the channel"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	cfg.Role = string(signaling.RoleDownstream)
	if strings.HasPrefix(role, "Upstream") {
		cfg.Role = string(signaling.RoleUpstream)
	}
}

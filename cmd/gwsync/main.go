package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nhle/gwsync/internal/channel"
	"github.com/nhle/gwsync/internal/credential"
	"github.com/nhle/gwsync/internal/directory"
	"github.com/nhle/gwsync/internal/gab"
	"github.com/nhle/gwsync/internal/logging"
	"github.com/nhle/gwsync/internal/model"
	"github.com/nhle/gwsync/internal/prompt"
	"github.com/nhle/gwsync/internal/store"
	"github.com/nhle/gwsync/internal/syncstate"
	"github.com/nhle/gwsync/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gwsync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	flag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logging.Initialize(cfg.LogLevel)

	book, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening address book store: %w", err)
	}
	defer book.Close()

	dir := directory.New()
	prompter := prompt.NewTerminal(nil, nil)

	channels := func(a model.Account) channel.Channel {
		password, err := credential.Get("imap:" + a.Email)
		if err != nil {
			logrus.WithField("account", a.ID).
				Warnf("no mailbox credential, channel will fail to authenticate: %v", err)
		}
		return channel.NewIMAPChannel(a.IMAPHost, a.IMAPPort, a.Email, password, a.IMAPTLS)
	}

	client := transport.NewHTTPClient(func(a model.Account) (string, error) {
		return credential.Get("server:" + a.Email)
	})

	registry := gab.NewRegistry(cfg.GAB, book, dir, channels, prompter)

	coordinator := syncstate.NewCoordinator(
		cfg.SyncState, client, dir, prompter, &registryRestarter{registry: registry},
	)

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	registry.Start(ctx)
	coordinator.Start(ctx)

	for _, a := range cfg.Accounts {
		dir.AddAccount(a)
	}
	dir.Scan()

	logrus.Infof("gwsync running with %d accounts", len(cfg.Accounts))

	<-ctx.Done()

	logrus.Info("shutting down")
	coordinator.Stop()
	registry.Stop()

	// Account records accumulate advisory state while running (size
	// check done, declined sync windows). Write them back.
	for i := range cfg.Accounts {
		if a, ok := dir.Get(cfg.Accounts[i].ID); ok {
			cfg.Accounts[i] = a
		}
	}
	if err := model.SaveConfig(*configPath, cfg); err != nil {
		logrus.Warnf("saving config: %v", err)
	}
	return nil
}

// registryRestarter adapts the address-book registry to the stall
// prompt's restart action: a confirmed stall triggers a full rebuild.
type registryRestarter struct {
	registry *gab.Registry
}

func (r *registryRestarter) Restart(ctx context.Context, account model.Account) {
	logrus.WithField("account", account.ID).
		Info("restarting synchronization after stall")
	r.registry.FullResync(ctx, func() {
		logrus.WithField("account", account.ID).Info("resynchronization finished")
	})
}

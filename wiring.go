package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ncsync/ncsync/internal/cancelregistry"
	"github.com/ncsync/ncsync/internal/config"
	"github.com/ncsync/ncsync/internal/excludelist"
	"github.com/ncsync/ncsync/internal/ledger"
	"github.com/ncsync/ncsync/internal/localstore"
	"github.com/ncsync/ncsync/internal/syncengine"
	"github.com/ncsync/ncsync/internal/tree"
	"github.com/ncsync/ncsync/internal/webdav"
)

// httpClientTimeout bounds every WebDAV request; transfers are large-file
// GET/PUT calls that can legitimately take longer than typical metadata
// calls, but the client is still expected to make progress, so we rely on
// context cancellation rather than raising this further.
const httpClientTimeout = 60 * time.Second

// cancelTokenTTL bounds how long the cancel registry remembers a
// self-inflicted write before treating the matching echo as a genuine
// remote change again.
const cancelTokenTTL = 2 * time.Minute

// newRemoteClient builds the WebDAV client for cfg's account, honoring the
// optional HTTP(S) proxy.
func newRemoteClient(cfg *config.Config, logger *slog.Logger) (*webdav.Client, error) {
	httpClient := &http.Client{Timeout: httpClientTimeout}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing PROXY %q: %w", cfg.Proxy, err)
		}

		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return webdav.New(cfg.RemoteBaseURL(), httpClient, cfg, logger), nil
}

// engineComponents bundles everything the control loop and the out-of-band
// repair command both need to build against the same on-disk state.
type engineComponents struct {
	store    *localstore.Store
	remote   *webdav.Client
	tree     *tree.Tree
	exclude  *excludelist.List
	cancels  *cancelregistry.Registry
	ledger   *ledger.Ledger
	recon    *syncengine.Reconciler
	persist  *syncengine.Persistence
	repairer *syncengine.Repairer
	cursor   string
	fresh    bool
}

// buildEngineComponents wires every collaborator up from the CLIContext,
// loading the prior checkpoint. If none exists it starts from an empty tree
// and reports fresh; it does not walk the remote itself.
func buildEngineComponents(cc *CLIContext) (*engineComponents, error) {
	remote, err := newRemoteClient(cc.Config, cc.Logger)
	if err != nil {
		return nil, err
	}

	store := cc.Store

	exclude := excludelist.New()
	if err := exclude.LoadFile(store.ExcludeFilePath()); err != nil {
		return nil, err
	}

	led, err := ledger.Open(store.LedgerPath(), cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening audit ledger: %w", err)
	}

	persist := syncengine.NewPersistence(store, cc.Logger)

	t, cursor, existed, err := persist.Load()
	if err != nil {
		return nil, err
	}

	fresh := !existed
	if fresh {
		t = tree.New()
	}

	cancels := cancelregistry.New(cancelTokenTTL)
	recon := syncengine.New(t, remote, store, exclude, cancels, led, cc.Logger)
	repairer := syncengine.NewRepairer(t, remote, store, recon, persist, led, cc.Logger)

	return &engineComponents{
		store:    store,
		remote:   remote,
		tree:     t,
		exclude:  exclude,
		cancels:  cancels,
		ledger:   led,
		recon:    recon,
		persist:  persist,
		repairer: repairer,
		cursor:   cursor,
		fresh:    fresh,
	}, nil
}

// Command earthfs-pull runs a single pull against one peer repository,
// storing whatever it fetches into a local repo, in the flag-driven
// style of cmd/camsync.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aqnotecom/earthfs/pull"
	"github.com/aqnotecom/earthfs/repo"
)

var (
	flagRepo     = flag.String("repo", "", "path to the local repository (created if it doesn't exist)")
	flagHost     = flag.String("host", "", "peer host to pull from, e.g. https://peer.example:8443")
	flagUser     = flag.String("user", "", "username to authenticate against the peer")
	flagPassword = flag.String("password", "", "password to authenticate against the peer")
	flagUserID   = flag.Int64("userid", 1, "local account ID pulled files are attributed to")
	flagQuery    = flag.String("query", "", "server-side listing filter, sent only if non-empty")
	flagInsecure = flag.Bool("insecure", false, "skip TLS certificate verification for the peer")
)

func usage(err string) {
	if err != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n\nUsage:\n", err)
	}
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Parse()
	if *flagRepo == "" {
		usage("--repo is required")
	}
	if *flagHost == "" {
		usage("--host is required")
	}

	r := repo.New(*flagRepo)
	if err := r.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "earthfs-pull: init repo: %v\n", err)
		os.Exit(1)
	}

	cfg := pull.Config{
		Host:               *flagHost,
		Username:           *flagUser,
		Password:           *flagPassword,
		UserID:             *flagUserID,
		Query:              *flagQuery,
		SendQuery:          *flagQuery != "",
		InsecureSkipVerify: *flagInsecure,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := pull.New(cfg, r)
	c.Start(ctx)

	<-ctx.Done()
	if err := c.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "earthfs-pull: stop: %v\n", err)
		os.Exit(1)
	}
}

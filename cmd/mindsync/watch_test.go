package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/client"
	"github.com/vovakirdan/mindsync/internal/config"
	"github.com/vovakirdan/mindsync/internal/core"
	transporthttp "github.com/vovakirdan/mindsync/internal/transport/http"
)

func startServer(t *testing.T) string {
	t.Helper()

	hub := core.NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Default()
	logger := zerolog.Nop()
	ts := httptest.NewServer(transporthttp.NewServer(hub, nil, &cfg, &logger).Handler)
	t.Cleanup(ts.Close)
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "watch"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("missing %s command: %v", name, err)
		}
	}
}

func TestRunWatchScript(t *testing.T) {
	url := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in := strings.NewReader("node 5 Hello\nedit 5\ntype Hello world\ncommit\nshow\nwho\nbogus\nquit\n")
	var out bytes.Buffer
	err := runWatch(ctx, client.Options{URL: url, User: "alice"}, "42", in, &out)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"connected as alice",
		"joined 42 with 1 participant(s)",
		`"label": "Hello world"`,
		"alice (you)",
		`unknown command "bogus"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/mindsync/internal/client"
	"github.com/vovakirdan/mindsync/internal/log"
	"github.com/vovakirdan/mindsync/internal/mindmap"
)

const watchHelp = `commands:
  node <id> <label...>          create or replace a node and publish it
  edge <id> <source> <target>   create or replace an edge and publish it
  edit <id>                     start editing a node label
  type <text...>                set the label being edited (debounced)
  commit | cancel               end the edit session
  cursor <x> <y>                share the pointer position
  select <id...>                share the node selection
  delete <id...>                remove nodes locally
  show                          print the local document
  who                           print the participants
  quit`

func newWatchCmd(logLevel *string) *cobra.Command {
	var opts client.Options

	cmd := &cobra.Command{
		Use:   "watch <documentId>",
		Short: "Join a document from the terminal and follow its activity",
		Long:  "Join a document from the terminal and follow its activity.\n\n" + watchHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := *logLevel
			if level == "" {
				level = "warn"
			}
			opts.Logger = log.NewWithFormat(cmd.ErrOrStderr(), level, "console")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.URL, "url", "ws://localhost:8080/ws", "websocket endpoint")
	flags.StringVar(&opts.Token, "token", "", "identity token")
	flags.StringVar(&opts.User, "user", "", "guest name when no token is given")
	flags.IntVar(&opts.MaxReconnectAttempts, "reconnect-attempts", client.DefaultMaxReconnectAttempts, "automatic reconnection attempts, negative disables")
	return cmd
}

type watcher struct {
	out      io.Writer
	self     string
	document string
	session  *client.Session
	replica  *client.Replica
	editor   *client.Editor
}

func runWatch(ctx context.Context, opts client.Options, documentID string, in io.Reader, out io.Writer) error {
	conn, err := client.Dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	session := client.NewSession(conn)
	replica := client.NewReplica(mindmap.Document{})
	replica.Attach(session)

	w := &watcher{
		out:      out,
		self:     conn.Identity().UserID,
		document: documentID,
		session:  session,
		replica:  replica,
		editor:   client.NewEditor(replica, session, opts),
	}
	fmt.Fprintf(out, "connected as %s\n", w.self)

	session.OnChange(w.printChange)
	session.OnError(func(err error) { fmt.Fprintf(out, "! %v\n", err) })

	unavailable := make(chan error, 1)
	conn.OnStatus(func(ch client.StatusChange) {
		fmt.Fprintf(out, "* %s\n", ch.Status)
		if ch.Status == client.StatusUnavailable {
			unavailable <- ch.Err
		}
	})
	// Membership does not survive a reconnect.
	conn.OnReconnect(func(client.Identity) {
		go func() {
			if err := w.join(ctx); err != nil {
				fmt.Fprintf(out, "! rejoin: %v\n", err)
			}
		}()
	})

	if err := w.join(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return w.leave()
		case err := <-unavailable:
			return err
		case line, ok := <-lines:
			if !ok {
				return w.leave()
			}
			quit, err := w.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return w.leave()
			}
		}
	}
}

func (w *watcher) join(ctx context.Context) error {
	roster, err := w.session.Join(ctx, w.document)
	if err != nil {
		return fmt.Errorf("join %s: %w", w.document, err)
	}
	if roster == nil {
		fmt.Fprintf(w.out, "joined %s (roster pending)\n", w.document)
	} else {
		fmt.Fprintf(w.out, "joined %s with %d participant(s)\n", w.document, len(roster))
	}
	return nil
}

func (w *watcher) leave() error {
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultAuthTimeout)
	defer cancel()
	if err := w.editor.Commit(ctx); err != nil {
		fmt.Fprintf(w.out, "! commit: %v\n", err)
	}
	if err := w.session.Leave(ctx, w.document); err != nil {
		fmt.Fprintf(w.out, "! leave: %v\n", err)
	}
	return nil
}

func (w *watcher) printChange(env mindmap.Envelope) {
	fmt.Fprintf(w.out, "< %s changed %s: %d node(s), %d edge(s)\n",
		env.OriginUserID, env.ChangeType, len(env.Changes.Nodes), len(env.Changes.Edges))
}

func (w *watcher) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(w.out, watchHelp)
	case "node":
		if len(args) < 1 {
			return false, fmt.Errorf("usage: node <id> <label...>")
		}
		n := mindmap.Node{ID: args[0], Data: mindmap.NodeData{Label: strings.Join(args[1:], " ")}}
		w.replica.UpsertNode(n)
		n, _ = w.replica.Node(args[0])
		return false, w.session.PublishChange(ctx, mindmap.ChangeNodes, mindmap.Changes{Nodes: []mindmap.Node{n}})
	case "edge":
		if len(args) != 3 {
			return false, fmt.Errorf("usage: edge <id> <source> <target>")
		}
		e := mindmap.Edge{ID: args[0], Source: args[1], Target: args[2], Type: mindmap.DefaultEdgeType}
		w.replica.UpsertEdge(e)
		return false, w.session.PublishChange(ctx, mindmap.ChangeEdges, mindmap.Changes{Edges: []mindmap.Edge{e}})
	case "edit":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: edit <id>")
		}
		return false, w.editor.Begin(ctx, args[0])
	case "type":
		return false, w.editor.Type(strings.Join(args, " "))
	case "commit":
		return false, w.editor.Commit(ctx)
	case "cancel":
		w.editor.Cancel()
	case "cursor":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: cursor <x> <y>")
		}
		x, errX := strconv.ParseFloat(args[0], 64)
		y, errY := strconv.ParseFloat(args[1], 64)
		if errX != nil || errY != nil {
			return false, fmt.Errorf("cursor coordinates must be numbers")
		}
		w.session.PublishCursor(ctx, x, y)
	case "select":
		w.session.PublishSelection(ctx, args)
	case "delete":
		w.replica.DeleteNodes(args...)
	case "show":
		doc, err := json.MarshalIndent(w.replica.Document(), "", "  ")
		if err != nil {
			return false, err
		}
		fmt.Fprintln(w.out, string(doc))
	case "who":
		p := w.session.Presence()
		for _, part := range p.Participants {
			line := part.Username
			if part.UserID == w.self {
				line += " (you)"
			}
			if c, ok := p.Cursors[part.UserID]; ok {
				line += fmt.Sprintf(" @ %.0f,%.0f", c.X, c.Y)
			}
			if sel, ok := p.Selections[part.UserID]; ok && len(sel.NodeIDs) > 0 {
				line += " selecting " + strings.Join(sel.NodeIDs, ",")
			}
			fmt.Fprintln(w.out, line)
		}
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cluckosdk "clucko/sdk/go"
)

const shellHelp = `Commands:
  session              show the login session
  login <email>        send a one-time code to email
  code <code>          submit the one-time code
  back                 return to email entry
  logout               end the session
  missions             read missions from the contract
  fee                  show the createMission fee
  create               create a mission (prompts for fields)
  tx                   show the latest mission transaction
  events [n]           show recent journal events
  event <id>           show one journal event with its payload
  help                 show this help
  quit                 leave the shell`

func shellCmd() *cobra.Command {
	var remote string
	opts := gatewayOptions{addr: "127.0.0.1:0", basePath: "/v0"}
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive login and mission shell",
		Long:  "The shell drives a Clucko gateway. Without --remote it starts a private gateway on a loopback port for the lifetime of the shell.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			base := remote
			if base == "" {
				logger := log.New(cmd.ErrOrStderr(), "[gateway] ", 0)
				g, err := startGateway(ctx, opts, logger)
				if err != nil {
					return err
				}
				runCtx, cancel := context.WithCancel(ctx)
				done := make(chan error, 1)
				go func() { done <- g.Run(runCtx) }()
				defer func() {
					cancel()
					<-done
				}()
				base = g.URL
			}
			client := cluckosdk.New(base)
			client.AccessToken = viper.GetString("access-token")
			return newShell(client, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "gateway URL of a running 'clucko serve'")
	cmd.Flags().BoolVar(&opts.devIdentity, "dev-identity", false, "use the in-memory identity provider (codes are logged to stderr)")
	return cmd
}

type shell struct {
	client *cluckosdk.Client
	in     *bufio.Scanner
	out    io.Writer
}

func newShell(client *cluckosdk.Client, in io.Reader, out io.Writer) *shell {
	return &shell{client: client, in: bufio.NewScanner(in), out: out}
}

// Run reads commands until quit or end of input.
func (s *shell) Run(ctx context.Context) error {
	if err := s.client.Health(ctx); err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	fmt.Fprintln(s.out, "clucko shell. Type help for commands.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, ok := s.ask("clucko> ")
		if !ok {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := s.dispatch(ctx, fields[0], fields[1:]); err != nil {
			s.printError(err)
		}
	}
}

func (s *shell) ask(prompt string) (string, bool) {
	fmt.Fprint(s.out, prompt)
	if !s.in.Scan() {
		fmt.Fprintln(s.out)
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

func (s *shell) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "help":
		fmt.Fprintln(s.out, shellHelp)
		return nil
	case "session":
		sess, err := s.client.Session(ctx)
		if err != nil {
			return err
		}
		s.printSession(sess)
		return nil
	case "login":
		if len(args) != 1 {
			return errors.New("usage: login <email>")
		}
		sess, err := s.client.RequestCode(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Code sent to %s. Enter it with: code <%d characters>\n", sess.Email, sess.CodeLength)
		return nil
	case "code":
		if len(args) != 1 {
			return errors.New("usage: code <code>")
		}
		sess, err := s.client.VerifyCode(ctx, args[0])
		if err != nil {
			return err
		}
		s.printSession(sess)
		return nil
	case "back":
		sess, err := s.client.Back(ctx)
		if err != nil {
			return err
		}
		s.printSession(sess)
		return nil
	case "logout":
		sess, err := s.client.Logout(ctx)
		if err != nil {
			return err
		}
		s.printSession(sess)
		return nil
	case "missions":
		list, err := s.client.Missions(ctx, true)
		if err != nil {
			return err
		}
		if list.Error != "" {
			fmt.Fprintf(s.out, "warning: %s (showing cached missions)\n", list.Error)
		}
		s.printMissions(list.Items)
		return nil
	case "fee":
		fee, err := s.client.MissionFee(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Mission fee: %s wei\n", fee)
		return nil
	case "create":
		return s.create(ctx)
	case "tx":
		tx, err := s.client.Transaction(ctx)
		if err != nil {
			return err
		}
		s.printTransaction(tx)
		return nil
	case "events":
		n := 10
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v <= 0 {
				return errors.New("usage: events [n]")
			}
			n = v
		}
		items, err := s.client.Events(ctx, n)
		if err != nil {
			return err
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(s.out)
		tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity"})
		for _, evt := range items {
			tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityID})
		}
		tw.Render()
		return nil
	case "event":
		if len(args) != 1 {
			return errors.New("usage: event <id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.New("usage: event <id>")
		}
		evt, err := s.client.Event(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "#%d %s %s %s:%s\n", evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID)
		keys := make([]string, 0, len(evt.Payload))
		for k := range evt.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(s.out, "  %s: %v\n", k, evt.Payload[k])
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q; type help", name)
	}
}

func (s *shell) create(ctx context.Context) error {
	var req cluckosdk.CreateMissionRequest
	fields := []struct {
		prompt string
		dst    *string
	}{
		{"Name: ", &req.Name},
		{"Description: ", &req.Description},
		{"Target contract: ", &req.TargetContract},
		{"Reward amount: ", &req.RewardAmount},
		{"Reward token (empty for default): ", &req.RewardToken},
	}
	for _, f := range fields {
		v, ok := s.ask(f.prompt)
		if !ok {
			return errors.New("create cancelled")
		}
		*f.dst = v
	}
	if fee, err := s.client.MissionFee(ctx); err == nil {
		fmt.Fprintf(s.out, "Submitting createMission with fee %s wei...\n", fee)
	}
	tx, err := s.client.CreateMission(ctx, req)
	if err != nil {
		return err
	}
	s.printTransaction(tx)
	list, err := s.client.Missions(ctx, false)
	if err != nil {
		return err
	}
	s.printMissions(list.Items)
	return nil
}

func (s *shell) printSession(sess cluckosdk.Session) {
	switch sess.Step {
	case "authenticated":
		fmt.Fprintf(s.out, "Signed in as %s", sess.Email)
		if sess.Subject != "" {
			fmt.Fprintf(s.out, " (%s)", sess.Subject)
		}
		fmt.Fprintln(s.out)
	case "code_requested":
		fmt.Fprintf(s.out, "Waiting for the code sent to %s\n", sess.Email)
	default:
		fmt.Fprintln(s.out, "Signed out")
	}
	if sess.ErrorMessage != "" {
		fmt.Fprintf(s.out, "error: %s\n", sess.ErrorMessage)
	}
}

func (s *shell) printTransaction(tx cluckosdk.Transaction) {
	switch tx.Status {
	case "idle":
		fmt.Fprintln(s.out, "No mission transaction yet")
	case "failed":
		fmt.Fprintf(s.out, "Transaction failed: %s\n", tx.Error)
	default:
		fmt.Fprintf(s.out, "Transaction %s: %s\n", tx.Status, tx.Hash)
		if !tx.Settled {
			fmt.Fprintln(s.out, "Waiting for confirmation; check again with tx")
		}
	}
}

func (s *shell) printMissions(items []cluckosdk.Mission) {
	tw := table.NewWriter()
	tw.SetOutputMirror(s.out)
	tw.AppendHeader(table.Row{"ID", "Name", "Target", "Reward", "Active"})
	for _, m := range items {
		tw.AppendRow(table.Row{m.ID, m.Name, m.TargetContract, m.RewardAmount, m.IsActive})
	}
	tw.Render()
}

func (s *shell) printError(err error) {
	var apiErr *cluckosdk.APIError
	if errors.As(err, &apiErr) && apiErr.Code == "transaction_pending" {
		fmt.Fprintf(s.out, "error: %s; check progress with tx\n", apiErr.Message)
		return
	}
	fmt.Fprintf(s.out, "error: %s\n", err)
}

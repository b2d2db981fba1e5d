// Command flowctl inspects the FlowPilot flow catalog and runs flows
// interactively against the in-process engine.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/FlowPilot/internal/flow"
	"github.com/BTreeMap/FlowPilot/internal/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	if err := newApp(os.Stdin, os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "flowctl:", err)
		os.Exit(1)
	}
}

func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:      "flowctl",
		Usage:     "Inspect and exercise FlowPilot conversation flows",
		Reader:    in,
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log engine activity to stderr",
			},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelWarn
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "flows",
				Usage:  "List the available flows",
				Action: listFlows,
			},
			{
				Name:   "export",
				Usage:  "Print the flow catalog as YAML",
				Action: exportFlows,
			},
			{
				Name:  "chat",
				Usage: "Run an interactive conversation on stdin",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "flow",
						Usage: "Start this flow immediately instead of selecting one from the first message",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "User name used to personalize messages",
					},
					&cli.StringFlag{
						Name:  "urgency",
						Usage: "Urgency level: low, normal, high or critical",
						Value: string(models.UrgencyNormal),
					},
				},
				Action: chat,
			},
		},
	}
}

func listFlows(c *cli.Context) error {
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FLOW\tSTEPS\tPURPOSE")
	for _, f := range flow.DefaultCatalog().Flows() {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Type, f.VisibleStepCount(), f.Purpose)
	}
	return tw.Flush()
}

func exportFlows(c *cli.Context) error {
	enc := yaml.NewEncoder(c.App.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(flow.DefaultCatalog().Summaries()); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return enc.Close()
}

func chat(c *cli.Context) error {
	urgency := models.UrgencyLevel(strings.ToLower(c.String("urgency")))
	if !models.IsValidUrgencyLevel(urgency) {
		return fmt.Errorf("unknown urgency level %q", c.String("urgency"))
	}
	cctx := models.NewConversationContext(c.String("name"))
	cctx.UrgencyLevel.Level = urgency

	engine := flow.NewEngine()
	rec := models.ConversationRecord{
		ID:        "cli-" + uuid.NewString(),
		Status:    models.ConversationStatusIdle,
		Context:   cctx,
		CreatedAt: time.Now(),
	}
	out := c.App.Writer

	if name := c.String("flow"); name != "" {
		resp, err := engine.StartFlow(rec.ID, models.FlowType(name), rec.Context)
		if err != nil {
			return err
		}
		printResponse(out, resp)
		rec = flow.ApplyResponse(rec, resp, time.Now())
	} else {
		fmt.Fprintln(out, "Say what you need help with. Type 'quit' to leave.")
	}

	scanner := bufio.NewScanner(c.App.Reader)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return nil
		}

		step, turnCtx := flow.TurnInput(rec)
		resp, err := engine.HandleTurn(rec.ID, step, line, turnCtx)
		if err != nil {
			return err
		}
		printResponse(out, resp)
		rec = flow.ApplyResponse(rec, resp, time.Now())
		if resp.FlowCompleted {
			fmt.Fprintf(out, "[%s completed]\n", resp.FlowType)
			return nil
		}
	}
}

func printResponse(out io.Writer, resp models.FlowResponse) {
	fmt.Fprintln(out, resp.Response)
	if resp.Progress != "" {
		fmt.Fprintf(out, "(%s)\n", resp.Progress)
	}
	for i, s := range resp.SuggestedFlows {
		fmt.Fprintf(out, "  %d) %s: %s\n", i+1, s.Name, s.Description)
	}
}

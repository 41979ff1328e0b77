// Package main provides a CI-friendly smoke test against a running hub.
//
// It validates:
//   - handshake + connected ack for environment, agent, and human clients
//   - action -> outcome round trip through the context layer
//   - environment event broadcast reaches same-env agents only
//   - duplicate client id rejection leaves the first connection intact
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"starhub/client"
	"starhub/protocol"
)

const defaultPerStepTimeout = 7 * time.Second

func main() {
	var (
		hubURL  = flag.String("url", "ws://127.0.0.1:8000/ws", "Hub WebSocket URL")
		envID   = flag.String("env", "smoke-env-1", "Environment id to run under")
		timeout = flag.Duration("timeout", defaultPerStepTimeout, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	root := context.Background()

	env := client.NewEnvironment(*envID, *hubURL, nil, nil)
	mustConnect(root, env.Client, *timeout)
	defer func() { _ = env.Disconnect() }()

	// The environment echoes every action back as a success outcome.
	env.OnAction("", func(msg protocol.Message, sender string) {
		if *verbose {
			fmt.Fprintf(os.Stderr, "[env] action=%s from=%s\n", msg.Action, sender)
		}
		err := env.SendOutcome(msg.ActionID, protocol.OutcomeSuccess, map[string]any{
			"echo": msg.Action,
		}, sender)
		if err != nil {
			fatalf("env outcome send: %v", err)
		}
	})

	insider := client.NewAgent("smoke-agent-in", *envID, *hubURL, nil, nil)
	mustConnect(root, insider.Client, *timeout)
	defer func() { _ = insider.Disconnect() }()

	outsider := client.NewAgent("smoke-agent-out", *envID+"-other", *hubURL, nil, nil)
	mustConnect(root, outsider.Client, *timeout)
	defer func() { _ = outsider.Disconnect() }()

	inTicks := make(chan protocol.Message, 8)
	insider.OnEvent("tick", func(msg protocol.Message) { inTicks <- msg })
	outTicks := make(chan protocol.Message, 8)
	outsider.OnEvent("tick", func(msg protocol.Message) { outTicks <- msg })

	stepActionOutcome(root, insider, *timeout, *verbose)
	stepBroadcastScope(env, inTicks, outTicks, *timeout, *verbose)
	stepDuplicateID(root, env, *envID, *hubURL, *timeout)

	fmt.Printf("OK: env=%s agents=[%s %s]\n", *envID, insider.Info.ClientID, outsider.Info.ClientID)
}

func mustConnect(ctx context.Context, c *client.Client, stepTimeout time.Duration) {
	dialCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := c.Connect(dialCtx); err != nil {
		fatalf("connect %s: %v", c.Info.ClientID, err)
	}
}

func stepActionOutcome(ctx context.Context, a *client.Agent, stepTimeout time.Duration, verbose bool) {
	outcome, err := a.Act(ctx, "ping", map[string]any{"n": 1}, stepTimeout)
	if err != nil {
		fatalf("action round trip: %v", err)
	}
	if outcome.Status != protocol.OutcomeSuccess {
		fatalf("action round trip: status=%s", outcome.Status)
	}
	if echo, _ := outcome.Outcome["echo"].(string); echo != "ping" {
		fatalf("action round trip: echo=%q want %q", echo, "ping")
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "[agent] outcome action_id=%s\n", outcome.ActionID)
	}
}

func stepBroadcastScope(env *client.Environment, inTicks, outTicks <-chan protocol.Message, stepTimeout time.Duration, verbose bool) {
	if _, err := env.SendEvent("tick", map[string]any{"t": 1}, ""); err != nil {
		fatalf("broadcast send: %v", err)
	}

	select {
	case msg := <-inTicks:
		if verbose {
			fmt.Fprintf(os.Stderr, "[agent] tick data=%v\n", msg.Data)
		}
	case <-time.After(stepTimeout):
		fatalf("broadcast: same-env agent saw no tick within %s", stepTimeout)
	}

	select {
	case <-outTicks:
		fatalf("broadcast: other-env agent saw a tick it must not receive")
	case <-time.After(750 * time.Millisecond):
	}
}

func stepDuplicateID(ctx context.Context, env *client.Environment, envID, hubURL string, stepTimeout time.Duration) {
	dupe := client.NewEnvironment(envID, hubURL, nil, nil)
	dialCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	// The hub accepts the socket, then closes it with 1002 once the connect
	// frame names an already-registered id. Connect itself succeeds; the
	// rejection surfaces as a close on the next read.
	if err := dupe.Connect(dialCtx); err != nil {
		fatalf("dupe dial: %v", err)
	}
	defer func() { _ = dupe.Disconnect() }()

	deadline := time.Now().Add(stepTimeout)
	for dupe.Connected() {
		if time.Now().After(deadline) {
			fatalf("dupe connection was not closed within %s", stepTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if !env.Connected() {
		fatalf("dupe rejection disturbed the original connection")
	}
	if _, err := env.SendEvent("tick", map[string]any{"t": 2}, ""); err != nil {
		fatalf("original connection unusable after dupe rejection: %v", err)
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "hub-smoke: "+format+"\n", args...)
	os.Exit(1)
}

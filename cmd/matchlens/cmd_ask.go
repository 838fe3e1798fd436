// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var askDebug bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question about the match",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askDebug, "debug", false, "dump the full request record after the answer")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	svc, _, cleanup, err := buildService("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := svc.Process(cmd.Context(), question)
	if err != nil {
		return err
	}

	tty := isatty.IsTerminal(os.Stdout.Fd())

	if !resp.Success {
		if resp.Answer != "" {
			fmt.Println(resp.Answer)
		}
		printStyled(tty, "❌ %s\n", resp.Error)
		if len(resp.FailedValidations) > 0 {
			for _, v := range resp.FailedValidations {
				for _, d := range v.Discrepancies {
					fmt.Fprintf(os.Stderr, "  - [%s] %s\n", v.Stage, d)
				}
			}
		}
		if askDebug {
			dumpDebug(resp.Carrier.DebugSnapshot(0))
		}
		return fmt.Errorf("request %s did not succeed", resp.RequestID)
	}

	fmt.Println(resp.Answer)
	if !resp.Validated {
		printStyled(tty, "⚠ some checks did not pass; see --debug for details\n")
	}
	if len(resp.Followups) > 0 && tty {
		fmt.Println("\nYou could also ask:")
		for _, q := range resp.Followups {
			fmt.Println("  -", q)
		}
	}
	if askDebug {
		dumpDebug(resp.Carrier.DebugSnapshot(0))
	}
	return nil
}

// printStyled writes to stderr, dimmed when attached to a terminal.
func printStyled(tty bool, format string, args ...any) {
	if tty {
		fmt.Fprintf(os.Stderr, "\033[2m"+format+"\033[0m", args...)
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

func dumpDebug(snapshot map[string]any) {
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot render debug snapshot:", err)
		return
	}
	fmt.Fprintln(os.Stderr, string(payload))
}

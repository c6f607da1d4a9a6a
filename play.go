/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Seednode/dicerace/games/race"
	"github.com/Seednode/dicerace/games/race/board"
	"github.com/Seednode/dicerace/games/race/dice"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const playHelp = "r = roll, n = new game, q = quit"

func newPlayCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var rolls []string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a game in the terminal, one line per action.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var roller race.Roller = dice.New(&dice.Config{Seed: cfg.seed})

			if len(rolls) > 0 {
				values, err := parseRolls(rolls)
				if err != nil {
					return err
				}
				roller = dice.NewSequence(values...)
			}

			return play(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), roller)
		},
	}

	fs := cmd.Flags()
	fs.StringSliceVar(&rolls, "rolls", nil, "fixed die values to replay instead of random rolls, e.g. 6,2,5 (env: DICERACE_ROLLS)")

	bindEnv(v, fs)

	return cmd
}

func parseRolls(raw []string) ([]int, error) {
	values := make([]int, 0, len(raw))
	for _, r := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(r))
		if err != nil || n < 1 || n > dice.Sides {
			return nil, fmt.Errorf("invalid roll %q (must be between 1-%d inclusive)", r, dice.Sides)
		}
		values = append(values, n)
	}

	return values, nil
}

func draw(w io.Writer, s race.State) error {
	_, err := fmt.Fprintf(w, "%s\n%s%s\n", board.Text(s), board.TextPanel(board.Summarize(s)), playHelp)

	return err
}

// play runs a game against in, one command per line, until q or EOF.
func play(cfg *Config, in io.Reader, out io.Writer, roller race.Roller) error {
	state := race.New()

	if err := draw(out, state); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "r", "roll", "":
			if state.Finished() {
				continue
			}
			state = state.Roll(roller)

			last := state.History[len(state.History)-1]
			logf(cfg, "GAMES: Player %d rolled %d and moved to %d", last.Player, last.Roll, last.Position)

			if _, err := fmt.Fprintf(out, "🎲 %d\n", state.LastRoll); err != nil {
				return err
			}

		case "n", "new", "reset":
			state = race.Reset()

		case "q", "quit", "exit":
			return nil

		default:
			if _, err := fmt.Fprintln(out, playHelp); err != nil {
				return err
			}
			continue
		}

		if err := draw(out, state); err != nil {
			return err
		}
	}

	return scanner.Err()
}

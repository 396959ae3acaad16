package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyupark/freegpt/internal/provider/chatgpt"
)

var (
	solveSeed          string
	solveDifficulty    string
	solveUserAgent     string
	solveMaxIterations int
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve a proof-of-work challenge and print the token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ua := solveUserAgent
		if ua == "" {
			ua = globalCfg.UserAgent
		}
		maxIter := solveMaxIterations
		if maxIter <= 0 {
			maxIter = globalCfg.PowMaxIterations
		}

		solver := chatgpt.NewSolver(1, maxIter)
		res, err := solver.Solve(cmd.Context(),
			chatgpt.Challenge{Seed: solveSeed, Difficulty: solveDifficulty},
			chatgpt.NewClientMetadata(ua, time.Now()))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "token:   %s\n", res.Token)
		fmt.Fprintf(out, "solved:  %t\n", res.Solved)
		fmt.Fprintf(out, "elapsed: %s\n", res.Elapsed.Round(time.Microsecond))
		return nil
	},
}

func init() {
	solveCmd.Flags().StringVar(&solveSeed, "seed", "", "Challenge seed")
	solveCmd.Flags().StringVar(&solveDifficulty, "difficulty", "", "Challenge difficulty (hex)")
	solveCmd.Flags().StringVar(&solveUserAgent, "user-agent", "", "User agent embedded in the answer (default from config)")
	solveCmd.Flags().IntVar(&solveMaxIterations, "max-iterations", 0, "Trial bound before the fallback token (default from config)")
	_ = solveCmd.MarkFlagRequired("seed")
	_ = solveCmd.MarkFlagRequired("difficulty")
	rootCmd.AddCommand(solveCmd)
}

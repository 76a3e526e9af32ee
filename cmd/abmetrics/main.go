package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuihairu/abmetrics/internal/audit"
	common "github.com/cuihairu/abmetrics/internal/cli/common"
	loadcmd "github.com/cuihairu/abmetrics/internal/cli/loadcmd"
	reportcmd "github.com/cuihairu/abmetrics/internal/cli/reportcmd"
	streamcmd "github.com/cuihairu/abmetrics/internal/cli/streamcmd"
)

func main() {
	root := &cobra.Command{Use: "abmetrics", Short: "A/B evaluation reports over the orders warehouse", SilenceUsage: true}

	root.AddCommand(reportcmd.New())
	root.AddCommand(loadcmd.New())
	root.AddCommand(streamcmd.New())
	root.AddCommand(completionCmd(root))
	root.AddCommand(configCmd())
	root.AddCommand(auditCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func completionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			}
			return fmt.Errorf("unknown shell: %s", args[0])
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Config utilities"}

	var (
		file     string
		includes []string
		profile  string
		show     bool
	)
	test := &cobra.Command{
		Use:   "test",
		Short: "Validate and print effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--config required")
			}
			v, err := common.Load(file, includes, profile)
			if err != nil {
				return err
			}
			c, err := common.Decode(v)
			if err != nil {
				return err
			}
			if err := common.ValidateConfig(c, true); err != nil {
				return err
			}
			if show {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(v.AllSettings()); err != nil {
					return err
				}
				return enc.Close()
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
	test.Flags().StringVar(&file, "config", "", "config file path")
	test.Flags().StringSliceVar(&includes, "include", nil, "extra config files merged in order")
	test.Flags().StringVar(&profile, "profile", "", "profile to overlay")
	test.Flags().BoolVar(&show, "print", false, "print the effective config")
	cfg.AddCommand(test)
	return cfg
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Run ledger utilities"}
	verify := &cobra.Command{
		Use:   "verify <ledger.jsonl>",
		Short: "Check the hash chain of a run ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := audit.VerifyFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries OK\n", n)
			return nil
		},
	}
	a.AddCommand(verify)
	return a
}

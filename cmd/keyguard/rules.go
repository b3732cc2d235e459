package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/keyguard/internal/rules"
	"github.com/hazyhaar/keyguard/internal/service"
)

// withRules runs fn against the configured rule store, without a browser.
func withRules(cmd *cobra.Command, fn func(*service.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, _, closeStore, err := ruleStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(&service.Service{Rules: store, Logger: logger})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and edit the stored shortcut rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every rule set as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRules(cmd, func(s *service.Service) error {
			return printJSON(s.ListRules())
		})
	},
}

var (
	ruleURLs     []string
	ruleInactive bool
	ruleScript   string
	ruleDesc     string
	ruleAck      bool
)

var rulesDoNothingCmd = &cobra.Command{
	Use:   "do-nothing <command>",
	Short: "Create or replace a rule that swallows a shortcut",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRules(cmd, func(s *service.Service) error {
			res, err := s.SetDoNothing(cmd.Context(), service.DoNothingRequest{
				Command:  args[0],
				URLs:     ruleURLs,
				IsActive: !ruleInactive,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var rulesCustomCmd = &cobra.Command{
	Use:   "custom <command>",
	Short: "Create or replace a rule that runs a script for a shortcut",
	Long: `Create or replace a Custom rule. The script runs in the page with full
privileges whenever the shortcut is pressed on a matching URL. Pass
--acknowledge-risks to confirm you wrote and reviewed it. Use --script -
to read the script from stdin, or @file to read it from a file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := readScript(ruleScript)
		if err != nil {
			return err
		}
		return withRules(cmd, func(s *service.Service) error {
			res, err := s.SetCustom(cmd.Context(), service.CustomRequest{
				Command:           args[0],
				URLs:              ruleURLs,
				IsActive:          !ruleInactive,
				Script:            script,
				ScriptDescription: ruleDesc,
				AcknowledgeRisks:  ruleAck,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <do-nothing|custom> <command>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRules(cmd, func(s *service.Service) error {
			return s.DeleteRule(cmd.Context(), args[0], args[1])
		})
	},
}

func activeCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <do-nothing|custom> <command>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(cmd, func(s *service.Service) error {
				return s.SetActive(cmd.Context(), args[0], args[1], active)
			})
		},
	}
}

var delayTime float64

var rulesDelayCmd = &cobra.Command{
	Use:   "delay-enter <on|off>",
	Short: "Turn the Enter debounce on or off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("want on or off, got %q", args[0])
		}
		return withRules(cmd, func(s *service.Service) error {
			ext, err := s.SetDelayEnter(cmd.Context(), rules.ExtensionRule{IsActiveDelayEnter: on, DelayTime: delayTime})
			if err != nil {
				return err
			}
			return printJSON(ext)
		})
	},
}

func readScript(arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := readAllStdin()
		return string(data), err
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		return string(data), err
	}
	return arg, nil
}

func init() {
	for _, c := range []*cobra.Command{rulesDoNothingCmd, rulesCustomCmd} {
		c.Flags().StringSliceVarP(&ruleURLs, "url", "u", nil, "URL pattern (repeatable), e.g. https://*.example.com")
		c.Flags().BoolVar(&ruleInactive, "inactive", false, "store the rule disabled")
	}
	rulesCustomCmd.Flags().StringVarP(&ruleScript, "script", "s", "", "script source, - for stdin, @file to read a file")
	rulesCustomCmd.Flags().StringVar(&ruleDesc, "description", "", "what the script does")
	rulesCustomCmd.Flags().BoolVar(&ruleAck, "acknowledge-risks", false, "confirm the script was written and reviewed by you")
	rulesCustomCmd.MarkFlagRequired("script")
	rulesDelayCmd.Flags().Float64Var(&delayTime, "delay", 0, "milliseconds (0 keeps the default of 500)")

	rulesCmd.AddCommand(rulesListCmd, rulesDoNothingCmd, rulesCustomCmd, rulesDeleteCmd,
		activeCmd("enable", true), activeCmd("disable", false), rulesDelayCmd)
	rootCmd.AddCommand(rulesCmd)
}

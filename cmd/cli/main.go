package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"safe-code-gate/internal/api"
	"safe-code-gate/internal/config"
	"safe-code-gate/internal/gate"
)

// errRejected makes gatectl exit 1 without printing usage.
var errRejected = errors.New("code rejected")

type options struct {
	serverURL  string
	apiKey     string
	configPath string
	remote     bool
	sanitize   bool
	jsonOut    bool
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errRejected) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "gatectl",
		Short:         "Validate Python snippets against the code gate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("GATE_API_KEY"), "API key")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file whose gate section builds the local policy")

	checkCmd := &cobra.Command{
		Use:   "check [code]",
		Short: "Validate code given as an argument or on stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code string
			if len(args) > 0 {
				code = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				code = string(data)
			}
			return check(cmd, opts, code)
		},
	}
	addCheckFlags(checkCmd, opts)
	root.AddCommand(checkCmd)

	checkFileCmd := &cobra.Command{
		Use:   "check-file <file>",
		Short: "Validate the contents of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			return check(cmd, opts, string(data))
		},
	}
	addCheckFlags(checkFileCmd, opts)
	root.AddCommand(checkFileCmd)

	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Print the effective policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.remote {
				return getAndPrint(cmd, opts, "/policy")
			}
			g, err := localGate(opts.configPath)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.NewPolicyResponse(g))
		},
	}
	policyCmd.Flags().BoolVar(&opts.remote, "remote", false, "Fetch the policy from the server")
	root.AddCommand(policyCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, opts, "/health")
		},
	})

	var (
		kind  string
		valid string
		limit int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audited verdicts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if kind != "" {
				q.Set("kind", kind)
			}
			if valid != "" {
				q.Set("valid", valid)
			}
			q.Set("limit", strconv.Itoa(limit))
			return getAndPrint(cmd, opts, "/verdicts?"+q.Encode())
		},
	}
	listCmd.Flags().StringVar(&kind, "kind", "", "Filter by verdict kind")
	listCmd.Flags().StringVar(&valid, "valid", "", "Filter by validity (true or false)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum verdicts to return")
	root.AddCommand(listCmd)

	return root
}

func addCheckFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "Validate on the server instead of in-process")
	cmd.Flags().BoolVar(&opts.sanitize, "sanitize", false, "Trim surrounding whitespace before validating")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the verdict as JSON")
}

func localGate(configPath string) (*gate.Gate, error) {
	if configPath == "" {
		return gate.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Gate.Policy()
	if err != nil {
		return nil, err
	}
	return gate.New(policy)
}

func check(cmd *cobra.Command, opts *options, code string) error {
	var resp api.ValidateResponse
	if opts.remote {
		if err := postValidate(opts, code, &resp); err != nil {
			return err
		}
	} else {
		g, err := localGate(opts.configPath)
		if err != nil {
			return err
		}
		start := time.Now()
		var v gate.Verdict
		if opts.sanitize {
			var sanitized string
			v, sanitized = g.ValidateAndSanitize(code)
			resp.SanitizedCode = &sanitized
		} else {
			v = g.Validate(code)
		}
		res := v.Result()
		resp.IsValid = res.IsValid
		resp.Kind = v.Kind.String()
		resp.Rule = v.Rule
		resp.Message = res.Message
		resp.Error = res.Error
		resp.Duration = api.Duration{Duration: time.Since(start)}
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		if err := printJSON(out, resp); err != nil {
			return err
		}
	} else if resp.IsValid {
		fmt.Fprintf(out, "OK: %s\n", resp.Message)
	} else {
		fmt.Fprintf(out, "REJECTED (%s/%s): %s\n", resp.Kind, resp.Rule, resp.Error)
	}

	if !resp.IsValid {
		return errRejected
	}
	return nil
}

func postValidate(opts *options, code string, into *api.ValidateResponse) error {
	body, err := json.Marshal(api.ValidateRequest{Code: code, Sanitize: opts.sanitize})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, opts.serverURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.apiKey != "" {
		req.Header.Set("X-API-Key", opts.apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func getAndPrint(cmd *cobra.Command, opts *options, path string) error {
	req, err := http.NewRequest(http.MethodGet, opts.serverURL+path, nil)
	if err != nil {
		return err
	}
	if opts.apiKey != "" {
		req.Header.Set("X-API-Key", opts.apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := printJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(formatted))
	return err
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/docmill/docmill/internal/config"
)

// --- parse ---

var parseCmd = &cobra.Command{
	Use:   "parse <file>...",
	Short: "Parse documents through a running docmill server",
	Long: `Parse documents through a running docmill server.

Examples:
  docmill parse report.pdf
  docmill parse scan.png --backend pipeline --lang en
  docmill parse *.pdf --async --callback-url https://example.com/hook`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		async, _ := cmd.Flags().GetBool("async")
		backend, _ := cmd.Flags().GetString("backend")
		lang, _ := cmd.Flags().GetString("lang")
		callbackURL, _ := cmd.Flags().GetString("callback-url")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		fields := map[string]string{}
		if async {
			fields["async_mode"] = "true"
		}
		if backend != "" {
			fields["backend"] = backend
		}
		if lang != "" {
			fields["lang"] = lang
		}
		if callbackURL != "" {
			fields["callback_url"] = callbackURL
		}

		resp, err := client.postFiles(cmd.Context(), "/api/v1/parse", args, fields)
		if err != nil {
			return err
		}

		if async {
			var result struct {
				JobID     string `json:"job_id"`
				Status    string `json:"status"`
				StatusURL string `json:"status_url"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Submitted job %s (%s)", result.JobID, result.Status)
			fmt.Printf("%s\n", result.JobID)
			return nil
		}

		var result struct {
			Outputs []struct {
				Filename string `json:"filename"`
				Markdown string `json:"markdown"`
			} `json:"outputs"`
			Errors []struct {
				Detail string `json:"detail"`
				Kind   string `json:"kind"`
			} `json:"errors"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		for _, e := range result.Errors {
			printError("%s: %s", e.Kind, e.Detail)
		}
		for _, out := range result.Outputs {
			fmt.Printf("## %s\n\n%s\n", out.Filename, out.Markdown)
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("parse failed")
		}
		return nil
	},
}

func init() {
	parseCmd.Flags().Bool("async", false, "submit as a background job")
	parseCmd.Flags().String("backend", "", "parser backend (pipeline, vlm-http-client, vlm-mlx-engine)")
	parseCmd.Flags().String("lang", "", "document language hint")
	parseCmd.Flags().String("callback-url", "", "webhook URL notified on job completion")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- api client ---

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:   cfg.Server.APIToken,
		// Synchronous parses can take a while on large documents.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// postFiles uploads the named files as a multipart parse request.
func (c *apiClient) postFiles(ctx context.Context, path string, paths []string, fields map[string]string) (*http.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		fw, err := mw.CreateFormFile("files", filepath.Base(p))
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable — is docmill running? (%w)", err)
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/ocr-bench/cmd/ocr-bench/ui"
	"github.com/spherical/ocr-bench/internal/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the stored provider configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored provider configuration with secrets hidden",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <provider> <key>=<value>...",
	Short: "Update fields of one provider",
	Long: `Update fields of one provider and save the configuration. Keys use the
JSON field names, e.g.:

  ocr-bench config set azure enabled=true endpoint=https://x.openai.azure.com
  ocr-bench config set tesseract enabled=true languages=eng,deu`,
	Args: cobra.MinimumNArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, err := a.stores.Config.Load(ctx)
	if err != nil {
		return err
	}
	for name, pc := range cfg {
		pc.APIKey = mask(pc.APIKey)
		pc.ServiceAccountJSON = mask(pc.ServiceAccountJSON)
		cfg[name] = pc
	}

	if jsonOutput {
		return printJSON(cfg)
	}

	ui.Section("Providers")
	rows := make([][]string, 0, len(cfg))
	for _, name := range a.registry.Names() {
		pc, ok := cfg[name]
		if !ok {
			rows = append(rows, []string{name, "not configured", ""})
			continue
		}
		state := "disabled"
		problem := ""
		if pc.Enabled {
			state = "enabled"
			if err := a.registry.Validate(name, pc); err != nil {
				problem = err.Error()
			}
		}
		rows = append(rows, []string{name, state, problem})
	}
	ui.Table([]string{"Provider", "State", "Problem"}, rows)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := args[0]
	known := false
	for _, n := range a.registry.Names() {
		known = known || n == name
	}
	if !known {
		return domain.ValidationError(fmt.Sprintf("unknown provider %q", name), nil)
	}

	cfg, err := a.stores.Config.Load(ctx)
	if err != nil {
		return err
	}
	pc := cfg[name]
	for _, kv := range args[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return domain.ValidationError(fmt.Sprintf("expected key=value, got %q", kv), nil)
		}
		if err := setField(&pc, key, value); err != nil {
			return err
		}
	}

	if pc.Enabled {
		if err := a.registry.Validate(name, pc); err != nil {
			return err
		}
	}

	cfg[name] = pc
	if err := a.stores.Config.Save(ctx, cfg); err != nil {
		return err
	}
	ui.Success("saved configuration for %s", name)
	return nil
}

func setField(pc *domain.ProviderConfig, key, value string) error {
	switch key {
	case "enabled", "use_entra_id":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return domain.ValidationError(fmt.Sprintf("%s must be true or false", key), err)
		}
		if key == "enabled" {
			pc.Enabled = b
		} else {
			pc.UseEntraID = b
		}
	case "api_key":
		pc.APIKey = value
	case "endpoint":
		pc.Endpoint = value
	case "api_version":
		pc.APIVersion = value
	case "deployment_name":
		pc.DeploymentName = value
	case "project_id":
		pc.ProjectID = value
	case "location":
		pc.Location = value
	case "endpoint_id":
		pc.EndpointID = value
	case "service_account_json":
		pc.ServiceAccountJSON = value
	case "service_account_path":
		pc.ServiceAccountPath = value
	case "model":
		pc.Model = value
	case "base_url":
		pc.BaseURL = value
	case "languages":
		pc.Languages = strings.Split(value, ",")
	default:
		return domain.ValidationError(fmt.Sprintf("unknown field %q", key), nil)
	}
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}

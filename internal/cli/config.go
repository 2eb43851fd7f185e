package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/noncer/internal/config"
	"github.com/mrz1836/noncer/internal/output"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and modify noncer configuration settings.`,
}

// configInitCmd initializes the configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file at ~/.noncer/config.yaml.

If a configuration file already exists, this command will not overwrite it
unless --force is specified.

Example:
  noncer config init
  noncer config init --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// configShowCmd shows the current configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration, after environment overrides.
The store password is masked.

Example:
  noncer config show
  noncer config show -o json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// configGetCmd gets a specific configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get a configuration value",
	Long: `Get a specific configuration value by its dot-separated path.

Examples:
  noncer config get chain.rpc
  noncer config get store.addr`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

// configSetCmd sets a configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value by its dot-separated path and save the
configuration file. The result must pass validation.

Examples:
  noncer config set chain.rpc https://mainnet.infura.io/v3/YOUR_KEY
  noncer config set store.addr redis.internal:6379
  noncer config set logging.level debug`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

const maskedValue = "********"

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configPath := config.Path(cfg.Home)

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return noncererr.WithSuggestion(
			noncererr.ErrGeneral,
			fmt.Sprintf("configuration already exists at %s. Use --force to overwrite.", configPath),
		)
	}

	defaultCfg := config.Defaults()
	defaultCfg.Home = cfg.Home

	if err := config.Save(defaultCfg, configPath); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	w := cmd.OutOrStdout()
	output.Infof(w, "Configuration initialized at %s", configPath)
	output.Infof(w, "\nEdit this file to configure:")
	output.Infof(w, "  - chain.rpc: your Ethereum RPC endpoint")
	output.Infof(w, "  - store.addr: the Redis server shared by all senders")
	output.Infof(w, "  - signer.key_file: the signing key (hex, mnemonic or age)")
	output.Infof(w, "  - logging.level: log level (off/error/debug)")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	tree, err := configTree(maskSecrets(cfg))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if formatter.IsJSON() {
		var m map[string]any
		if err := tree.Decode(&m); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	data, err := yaml.Marshal(tree)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	value, err := getConfigValue(maskSecrets(cfg), args[0])
	if err != nil {
		return err
	}
	output.Infof(cmd.OutOrStdout(), "%s", value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path, value := args[0], args[1]

	// Edit the file as written, without environment overrides.
	configPath := config.Path(cfg.Home)
	current, err := config.Load(configPath)
	if err != nil {
		if !noncererr.Is(err, noncererr.ErrConfigNotFound) {
			return err
		}
		current = config.Defaults()
		current.Home = cfg.Home
	}

	updated, err := setConfigValue(current, path, value)
	if err != nil {
		return err
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	if err := config.Save(updated, configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	output.Infof(cmd.OutOrStdout(), "Set %s = %s", path, value)
	return nil
}

// configTree returns c as the mapping node of a yaml document.
func configTree(c *config.Config) (*yaml.Node, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Content[0], nil
}

// lookup finds the scalar node at a dot-separated path.
func lookup(root *yaml.Node, path string) (*yaml.Node, error) {
	node := root
	for _, part := range strings.Split(path, ".") {
		var next *yaml.Node
		if node.Kind == yaml.MappingNode {
			for i := 0; i+1 < len(node.Content); i += 2 {
				if node.Content[i].Value == part {
					next = node.Content[i+1]
					break
				}
			}
		}
		if next == nil {
			return nil, unknownPath(path)
		}
		node = next
	}
	if node.Kind != yaml.ScalarNode {
		return nil, unknownPath(path)
	}
	return node, nil
}

func unknownPath(path string) error {
	return noncererr.WithSuggestion(
		noncererr.WithDetails(noncererr.ErrNotFound, map[string]string{"path": path}),
		fmt.Sprintf("configuration path '%s' not found; see 'noncer config show'", path),
	)
}

func getConfigValue(c *config.Config, path string) (string, error) {
	tree, err := configTree(c)
	if err != nil {
		return "", err
	}
	node, err := lookup(tree, path)
	if err != nil {
		return "", err
	}
	return node.Value, nil
}

// setConfigValue returns a copy of c with the scalar at path replaced. The
// value is parsed with the field's yaml type.
func setConfigValue(c *config.Config, path, value string) (*config.Config, error) {
	tree, err := configTree(c)
	if err != nil {
		return nil, err
	}
	node, err := lookup(tree, path)
	if err != nil {
		return nil, err
	}
	node.Value = value
	node.Tag = ""
	node.Style = 0

	updated := config.Defaults()
	if err := tree.Decode(updated); err != nil {
		return nil, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrConfigInvalid, err), map[string]string{
			"field": path,
		})
	}
	return updated, nil
}

func maskSecrets(c *config.Config) *config.Config {
	masked := *c
	if masked.Store.Password != "" {
		masked.Store.Password = maskedValue
	}
	return &masked
}

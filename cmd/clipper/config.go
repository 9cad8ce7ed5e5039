package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage clipper configuration",
		Long: `Show, get, or set configuration values stored in ~/.clipper.yaml.
Keys are the long flag names of the other commands; values are checked
against the flag's type. CLIPPER_<FLAG> environment variables override them.`,
		Example: `  clipper config                          # show all config
  clipper config keys                     # list settable keys
  clipper config set processors 8         # default pool width
  clipper config set data-dir /srv/clipper/data
  clipper config get poisson-cutoff       # value, or the flag default`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigKeysCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(cmd, args[0], args[1])
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(cmd, args[0])
		},
	}
}

func newConfigKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the keys that can be configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := configKeys(cmd.Root())
			names := make([]string, 0, len(keys))
			for name := range keys {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				f := keys[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-12s %s\n", name, f.Value.Type(), f.Usage)
			}
			return nil
		},
	}
}

// configKeys collects the flags of every command except config itself.
// The first registration of a name wins; shared flags have one type.
func configKeys(root *cobra.Command) map[string]*pflag.Flag {
	keys := make(map[string]*pflag.Flag)
	add := func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		if _, ok := keys[f.Name]; !ok {
			keys[f.Name] = f
		}
	}
	var walk func(*cobra.Command)
	walk = func(c *cobra.Command) {
		if c.Name() == "config" {
			return
		}
		c.LocalFlags().VisitAll(add)
		c.PersistentFlags().VisitAll(add)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(root)
	return keys
}

func lookupKey(cmd *cobra.Command, key string) (*pflag.Flag, error) {
	f, ok := configKeys(cmd.Root())[key]
	if !ok {
		return nil, usagef("unknown config key %q (see \"clipper config keys\")", key)
	}
	return f, nil
}

// parseConfigValue converts value to the type of the flag it configures.
func parseConfigValue(f *pflag.Flag, value string) (any, error) {
	switch f.Value.Type() {
	case "bool":
		switch strings.ToLower(value) {
		case "yes", "on":
			return true, nil
		case "no", "off":
			return false, nil
		}
		return strconv.ParseBool(value)
	case "int":
		return strconv.Atoi(value)
	case "uint64":
		return strconv.ParseUint(value, 10, 64)
	case "float64":
		return strconv.ParseFloat(value, 64)
	case "stringSlice":
		return strings.Split(value, ","), nil
	default:
		return value, nil
	}
}

func runConfigShow(cmd *cobra.Command) error {
	settings := viper.AllSettings()
	delete(settings, "verbose")
	delete(settings, "quiet")
	if len(settings) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "# No configuration set. Config file: ~/.clipper.yaml")
		return nil
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func runConfigSet(cmd *cobra.Command, key, value string) error {
	f, err := lookupKey(cmd, key)
	if err != nil {
		return err
	}
	v, err := parseConfigValue(f, value)
	if err != nil {
		return usagef("invalid %s value %q for %s: %v", f.Value.Type(), value, key, err)
	}
	viper.Set(key, v)

	cfgFile := viper.ConfigFileUsed()
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".clipper.yaml")
	}

	if err := viper.WriteConfigAs(cfgFile); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v in %s\n", key, v, cfgFile)
	return nil
}

func runConfigGet(cmd *cobra.Command, key string) error {
	f, err := lookupKey(cmd, key)
	if err != nil {
		return err
	}
	if val := viper.Get(key); val != nil {
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (default)\n", f.DefValue)
	return nil
}

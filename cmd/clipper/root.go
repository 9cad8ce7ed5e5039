package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clipper",
		Short: "Call significant CLIP-seq peaks",
		Long: `clipper finds clusters of CLIP-seq reads in every annotated gene and keeps
the ones that are significant against transcriptome, transcript and
local read backgrounds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.clipper.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "verbose console logging")
	root.PersistentFlags().BoolP("quiet", "q", false, "only log warnings and errors")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(newCallCmd())
	root.AddCommand(newRescoreCmd())
	root.AddCommand(newIndexCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newSpeciesCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".clipper")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CLIPPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
	}
	return nil
}

// bindFlags binds the flags of the running command so that config file and
// environment values apply to them.
func bindFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}
		err = viper.BindPFlag(f.Name, f)
	})
	return err
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".clipper", "data")
}

// newLogger builds a JSON production logger, or a console logger when
// verbose. Quiet raises the level to warn; debug lowers it to debug.
func newLogger(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if viper.GetBool("verbose") {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else {
		cfg = zap.NewProductionConfig()
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if viper.GetBool("quiet") {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return cfg.Build()
}

// cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/depthlens/internal/config"
	"github.com/xkilldash9x/depthlens/internal/observability"
)

// app is the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	cfg     *config.Config
}

// NewRootCmd builds the command tree. Each call returns an independent tree
// with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)

	rootCmd := &cobra.Command{
		Use:           "depthlens",
		Short:         "depthlens places 3D conversion surfaces on the images of web pages.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize()
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "depthlens version %s\n" .Version}}`)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./depthlens.yaml or ~/.depthlens/depthlens.yaml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log classifier rejections and debug output")
	pf.String("prefs", "", "preference database path; empty keeps preferences in memory")
	_ = a.v.BindPFlag("prefs.path", pf.Lookup("prefs"))

	rootCmd.AddCommand(
		newAugmentCmd(a),
		newProbeCmd(a),
		newPrefsCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// initialize reads the config file and environment and starts the logger.
func (a *app) initialize() error {
	if a.cfg != nil {
		return nil
	}
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.AddConfigPath("$HOME/.depthlens")
		a.v.SetConfigName("depthlens")
		a.v.SetConfigType("yaml")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		observability.InitializeLogger(config.NewDefaultConfig().Logger())
		return err
	}
	if a.verbose {
		cfg.SetEngineVerbose(true)
		cfg.LoggerCfg.Level = "debug"
	}
	a.cfg = cfg

	observability.InitializeLogger(cfg.Logger())
	if a.verbose {
		observability.SetLevel(zapcore.DebugLevel)
	}
	observability.GetLogger().Debug("Configuration loaded.",
		zap.String("version", Version),
		zap.String("config_file", a.v.ConfigFileUsed()))
	return nil
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-media-download/internal/config"
	"go-media-download/internal/httputil"
	"go-media-download/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// savePathFlag holds the value of the --save-path flag
var savePathFlag string

// logHttpFlag holds the value of the --log-http flag
var logHttpFlag bool

// verboseFlag enables debug logging
var verboseFlag bool

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport is the transport shared by direct HTTP downloads
// (base or trace-wrapped).
var globalHttpTransport http.RoundTripper

var rootCmd = &cobra.Command{
	Use:   "media-download",
	Short: "A priority-queue download engine for media links",
	Long: `media-download fetches audio and video from media sites and direct file
links through a pool of workers with proxy fallback and retry.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.
func Execute() {
	defer func() {
		if loggingTransport, ok := globalHttpTransport.(*httputil.LoggingTransport); ok && loggingTransport != nil {
			if err := loggingTransport.Close(); err != nil {
				log.WithError(err).Error("Error closing HTTP trace file")
			}
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory to save downloads (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&logHttpFlag, "log-http", false, "Trace direct HTTP requests/responses to http.log (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	viper.BindPFlag("save_path", rootCmd.PersistentFlags().Lookup("save-path"))
	viper.BindPFlag("log_http_requests", rootCmd.PersistentFlags().Lookup("log-http"))
}

// loadGlobalConfig loads the configuration and applies flag overrides. It
// also sets up the shared HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Not fatal here; commands check the fields they need. The
		// operational defaults still apply, otherwise a missing config file
		// would leave subprocesses with no wall-clock timeout at all.
		log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
		config.ApplyDefaults(&globalConfig)
	}

	if cmd.Flags().Changed("save-path") {
		if savePathFlag != "" {
			globalConfig.SavePath = savePathFlag
			log.Debugf("Overriding SavePath based on --save-path flag: %s", savePathFlag)
		} else {
			log.Warn("--save-path flag provided but value is empty, ignoring.")
		}
	}

	if cmd.Flags().Changed("log-http") {
		globalConfig.LogHttpRequests = logHttpFlag
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogHttpRequests {
		logFilePath := "http.log"
		if globalConfig.SavePath != "" {
			if _, statErr := os.Stat(globalConfig.SavePath); statErr == nil {
				logFilePath = filepath.Join(globalConfig.SavePath, logFilePath)
			} else {
				log.Warnf("SavePath '%s' not found, saving http.log to current directory.", globalConfig.SavePath)
			}
		}
		log.Infof("HTTP tracing to file: %s", logFilePath)

		loggingTransport, err := httputil.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize HTTP trace transport, tracing disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}

	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miethe/skillmeat-sub006/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	     _    _ _ _                      _
	 ___| | _(_) | |_ __ ___   ___  __ _| |_
	/ __| |/ / | | | '_ ` + "`" + ` _ \ / _ \/ _` + "`" + ` | __|
	\__ \   <| | | | | | | | |  __/ (_| | |_
	|___/_|\_\_|_|_|_| |_| |_|\___|\__,_|\__|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "skillmeat",
	Short: "A personal artifact catalog for third-party GitHub repositories.",
	Long: LOGO + `skillmeat scans GitHub repositories for reusable artifacts (skills,
commands, agents, tool servers, hooks), tracks how each catalog changes
across rescans, and imports selected entries into your local collection.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.skillmeat.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".skillmeat")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.skillmeat.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("github.token", "")
	viper.SetDefault("scan.max_files", 3000)
	viper.SetDefault("scan.harvest", false)
	viper.SetDefault("scan.trusted_orgs", []string{})
	viper.SetDefault("collection.root", "")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

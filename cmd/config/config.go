package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/remotesync/cmd/util"
	"github.com/sidkik/remotesync/pkg/config"
	"github.com/sidkik/remotesync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	stdin               io.Reader = os.Stdin
	parseUserConfig               = config.ParseUser
	writeUserConfig               = config.WriteUser
	loadProfiles                  = config.Load
	writeStarter                  = config.WriteStarter
	getWorkingDirectory           = os.Getwd
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.User
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the remotesync user settings",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.Profile, "profile", "",
		"Set the default profile. "+
			"Optional: If not set, `remotesync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.LogFile, "log-file", "",
		"Set the log file of `remotesync watch run`. "+
			"Optional: If not set, `remotesync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.MetricsAddr, "metrics-addr", "",
		"Set the address that `remotesync watch run` serves metrics on. "+
			"Optional: If not set, `remotesync config` will interactively prompt.")

	cmd.AddCommand(newInitCommand(), newUseCommand())

	// Setup the commands for querying the contents of the user config.
	type getterSpec struct {
		use, short string
		fn         func(config.User) string
	}

	getters := []getterSpec{
		{
			use:   "get-profile",
			short: "Get the default profile",
			fn:    func(cfg config.User) string { return cfg.Profile },
		},
		{
			use:   "get-log-file",
			short: "Get the log file of `remotesync watch run`",
			fn:    func(cfg config.User) string { return cfg.LogFile },
		},
		{
			use:   "get-metrics-addr",
			short: "Get the metrics address of `remotesync watch run`",
			fn:    func(cfg config.User) string { return cfg.MetricsAddr },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseUserConfig()
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a starter .remotesync.json in the working directory",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			wd, err := getWorkingDirectory()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "get working directory"))
			}

			path, err := writeStarter(wd)
			if err != nil {
				util.HandleFatalError(err)
			}
			fmt.Fprintf(stdout, "Wrote config to %s\n", path)
		},
	}
}

func newUseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use profile",
		Short: "Set the default profile",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := useProfile(args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func useProfile(name string) error {
	// Catch typos if the working directory has a config.
	if wd, err := getWorkingDirectory(); err == nil {
		if profiles, err := loadProfiles(wd); err == nil {
			if _, err := config.Select(profiles, name); err != nil {
				return err
			}
		}
	}

	cfg, err := parseUserConfig()
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	cfg.Profile = name
	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}
	fmt.Fprintf(stdout, "Using profile %q by default\n", name)
	return nil
}

// SetupConfig prompts for the user settings that weren't given as flags, and
// writes them.
func SetupConfig(cliOpts config.User) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := config.GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is.
func generateConfig(cliOpts config.User) (config.User, error) {
	currConfig, err := parseUserConfig()
	if err != nil {
		currConfig = config.User{}
		log.WithError(err).Debug("Failed to read current config")
	}

	cfg := cliOpts
	var prompts []prompt
	if cliOpts.Profile == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the profile to use when --profile isn't given.\n" +
				"It defaults to the first profile in .remotesync.json.",
			prompt:        "Default profile",
			defaultAnswer: guessProfile(),
			currAnswer:    currConfig.Profile,
			field:         &cfg.Profile,
		})
	}

	if cliOpts.LogFile == "" {
		prompts = append(prompts, prompt{
			helpString:    "Enter the file that `remotesync watch run` logs to.",
			prompt:        "Log file",
			defaultAnswer: "~/.remotesync.log",
			currAnswer:    currConfig.LogFile,
			field:         &cfg.LogFile,
		})
	}

	if cliOpts.MetricsAddr == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the address that `remotesync watch run` serves " +
				"prometheus metrics on.\nLeave it empty to disable metrics.",
			prompt:     "Metrics address",
			currAnswer: currConfig.MetricsAddr,
			field:      &cfg.MetricsAddr,
		})
	}

	for _, prompt := range prompts {
		resp, err := promptUser(prompt.helpString, prompt.prompt,
			prompt.defaultAnswer, prompt.currAnswer)
		if err != nil {
			return config.User{}, errors.WithContext(err, "read response")
		}
		*prompt.field = resp
	}

	return cfg, nil
}

// guessProfile returns the name of the first profile in the working
// directory's config, if there is one.
func guessProfile() string {
	wd, err := getWorkingDirectory()
	if err != nil {
		log.WithError(err).Debug("Failed to get working directory")
		return ""
	}

	profiles, err := loadProfiles(wd)
	if err != nil || len(profiles) == 0 {
		log.WithError(err).Debug("Failed to guess profile")
		return ""
	}
	return profiles[0].Name
}

func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimRight(choiceStr, "\n")

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(resp, "\n"), nil
}

package main

import (
	"fmt"
	"os"

	"github.com/darshan-rambhia/minisftp"
	"github.com/spf13/cobra"
)

const passwordEnv = "MINISFTP_PASSWORD"

// globalOptions holds the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	host       string
	port       int
	user       string
	keyPath    string
	knownHosts string
	insecure   bool
	verbose    bool

	// prompt reads a password when none is configured.
	prompt minisftp.PasswordPrompt
	// dial builds the client; tests swap it for an in-process one.
	dial func(minisftp.Config) (minisftp.ClientInterface, error)
}

func defaultOptions() *globalOptions {
	return &globalOptions{
		prompt: terminalPrompt(os.Stdin, os.Stderr),
		dial: func(c minisftp.Config) (minisftp.ClientInterface, error) {
			return minisftp.NewClient(c)
		},
	}
}

func newRootCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "minisftp",
		Short:         "Copy files to and from SFTP servers using password or key authentication",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file")
	flags.StringVar(&opts.host, "host", "", "SSH server host")
	flags.IntVar(&opts.port, "port", 22, "SSH server port")
	flags.StringVarP(&opts.user, "user", "u", "", "SSH user")
	flags.StringVarP(&opts.keyPath, "key", "i", "", "private key file")
	flags.StringVar(&opts.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	flags.BoolVar(&opts.insecure, "insecure", false, "skip host key verification")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")

	cmd.AddCommand(
		newPutCmd(opts),
		newGetCmd(opts),
		newCatCmd(opts),
		newSyncCmd(opts),
	)
	return cmd
}

// config merges the config file, the environment and explicitly set flags,
// in that order of increasing precedence.
func (o *globalOptions) config(cmd *cobra.Command) (minisftp.Config, error) {
	var c minisftp.Config
	if o.configPath != "" {
		loaded, err := minisftp.LoadConfig(o.configPath)
		if err != nil {
			return c, err
		}
		c = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("host") || c.Host == "" {
		c.Host = o.host
	}
	if flags.Changed("port") || c.Port == 0 {
		c.Port = o.port
	}
	if flags.Changed("user") || c.User == "" {
		c.User = o.user
	}
	if flags.Changed("key") {
		c.KeyPath = o.keyPath
		c.PrivateKey = ""
	}
	if flags.Changed("known-hosts") {
		c.KnownHostsFile = o.knownHosts
	}
	if flags.Changed("insecure") {
		c.InsecureIgnoreHostKey = o.insecure
	}
	if c.Password == "" {
		c.Password = os.Getenv(passwordEnv)
	}
	if c.Password == "" && c.PrivateKey == "" && c.KeyPath == "" {
		c.PasswordPrompt = o.prompt
	}

	c.Logger = minisftp.NewStdLogger(cmd.ErrOrStderr(), o.verbose)

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c.WithDefaults(), nil
}

// connect dials with the merged config and runs fn against the client.
func (o *globalOptions) connect(cmd *cobra.Command, fn func(minisftp.ClientInterface, minisftp.Config) error) error {
	c, err := o.config(cmd)
	if err != nil {
		return err
	}

	client, err := o.dial(c)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(client, c)
}
